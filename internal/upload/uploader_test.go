package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/storage"
)

func TestStorageUploaderLocal(t *testing.T) {
	base := t.TempDir()
	s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: base, PublicURL: "http://files.local/"})
	require.NoError(t, err)
	u := NewStorageUploader(s, StorageConfig{KeyPrefix: "chat"}, zerolog.Nop())

	att, err := u.Upload(context.Background(), File{Name: "../photo.png", Size: 3, Reader: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, "photo.png", att.Filename)
	assert.Equal(t, "image/png", att.ContentType)
	require.True(t, strings.HasPrefix(att.URL, "http://files.local/chat/"))
	assert.True(t, strings.HasSuffix(att.URL, "/photo.png"))

	rel := strings.TrimPrefix(att.URL, "http://files.local/")
	data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestValidation(t *testing.T) {
	u := NewStorageUploader(nil, StorageConfig{MaxSize: 4}, zerolog.Nop())

	_, err := u.Upload(context.Background(), File{Name: "a.txt", Size: 0, Reader: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = u.Upload(context.Background(), File{Name: "a.txt", Size: 10, Reader: strings.NewReader("0123456789")})
	assert.ErrorIs(t, err, ErrTooLarge)
}

type failingURLStorage struct {
	deleted []string
}

func (s *failingURLStorage) Put(ctx context.Context, obj storage.Object, r io.Reader) error {
	return nil
}

func (s *failingURLStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *failingURLStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "", errors.New("presign failed")
}

func TestStorageUploaderCleansUpOnURLFailure(t *testing.T) {
	s := &failingURLStorage{}
	u := NewStorageUploader(s, StorageConfig{KeyPrefix: "chat"}, zerolog.Nop())

	_, err := u.Upload(context.Background(), File{Name: "a.txt", Size: -1, Reader: strings.NewReader("x")})
	require.Error(t, err)
	require.Len(t, s.deleted, 1)
	assert.True(t, strings.HasPrefix(s.deleted[0], "chat/"))
}

type fakeREST struct {
	filename, contentType, body string
}

func (f *fakeREST) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*domain.Attachment, error) {
	data, _ := io.ReadAll(r)
	f.filename, f.contentType, f.body = filename, contentType, string(data)
	return &domain.Attachment{URL: "https://cdn/" + filename, Filename: filename, ContentType: contentType}, nil
}

func TestRESTUploader(t *testing.T) {
	api := &fakeREST{}
	u := NewRESTUploader(api, 0)

	att, err := u.Upload(context.Background(), File{Name: "dir/report.pdf", Size: -1, Reader: strings.NewReader("pdf")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/report.pdf", att.URL)
	assert.Equal(t, "report.pdf", api.filename)
	assert.Equal(t, "application/pdf", api.contentType)
	assert.Equal(t, "pdf", api.body)
}
