package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/storage"
)

var (
	ErrEmptyFile = errors.New("empty file")
	ErrTooLarge  = errors.New("file too large")
)

// File is an attachment picked by the user.
type File struct {
	Name        string
	ContentType string
	Size        int64 // -1 if unknown
	Reader      io.Reader
}

// Uploader stores a file and returns its attachment metadata.
type Uploader interface {
	Upload(ctx context.Context, f File) (*domain.Attachment, error)
}

func contentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func validate(f File, maxSize int64) error {
	if f.Reader == nil || f.Size == 0 {
		return ErrEmptyFile
	}
	if maxSize > 0 && f.Size > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, f.Size, maxSize)
	}
	return nil
}

// RESTAPI is the upload endpoint of the chat REST collaborator.
type RESTAPI interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*domain.Attachment, error)
}

// RESTUploader posts files to the chat backend.
type RESTUploader struct {
	api     RESTAPI
	maxSize int64
}

func NewRESTUploader(api RESTAPI, maxSize int64) *RESTUploader {
	return &RESTUploader{api: api, maxSize: maxSize}
}

func (u *RESTUploader) Upload(ctx context.Context, f File) (*domain.Attachment, error) {
	if err := validate(f, u.maxSize); err != nil {
		return nil, err
	}
	return u.api.Upload(ctx, filepath.Base(f.Name), contentType(f), f.Reader)
}

type StorageConfig struct {
	KeyPrefix string
	URLExpiry time.Duration
	MaxSize   int64
}

// StorageUploader writes files straight to object storage.
type StorageUploader struct {
	storage storage.Storage
	cfg     StorageConfig
	logger  zerolog.Logger
}

func NewStorageUploader(s storage.Storage, cfg StorageConfig, logger zerolog.Logger) *StorageUploader {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 7 * 24 * time.Hour
	}
	return &StorageUploader{storage: s, cfg: cfg, logger: logger}
}

func (u *StorageUploader) Upload(ctx context.Context, f File) (*domain.Attachment, error) {
	if err := validate(f, u.cfg.MaxSize); err != nil {
		return nil, err
	}

	name := filepath.Base(f.Name)
	ct := contentType(f)
	key := path.Join(u.cfg.KeyPrefix, uuid.NewString(), name)

	obj := storage.Object{Key: key, Filename: name, ContentType: ct, Size: f.Size}
	if err := u.storage.Put(ctx, obj, f.Reader); err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}

	url, err := u.storage.URL(ctx, key, u.cfg.URLExpiry)
	if err != nil {
		if delErr := u.storage.Delete(ctx, key); delErr != nil {
			u.logger.Warn().Err(delErr).Str("key", key).Msg("failed to remove orphaned attachment")
		}
		return nil, fmt.Errorf("failed to resolve attachment url: %w", err)
	}

	u.logger.Debug().Str("key", key).Str("content_type", ct).Msg("attachment stored")
	return &domain.Attachment{URL: url, Filename: name, ContentType: ct}, nil
}
