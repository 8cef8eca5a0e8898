package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

// Errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrAPI          = errors.New("chat api error")
)

const DefaultUploadPath = "/chat/uploads"

// APIClient talks to the chat REST endpoints on behalf of one session.
type APIClient struct {
	baseURL    string
	uploadPath string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a new chat REST client.
func NewAPIClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		uploadPath: DefaultUploadPath,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: pkglog.Outbound(nil, logger),
		},
	}
}

// WithUploadPath overrides the upload endpoint path.
func (c *APIClient) WithUploadPath(path string) *APIClient {
	if path != "" {
		c.uploadPath = "/" + strings.TrimLeft(path, "/")
	}
	return c
}

// SetToken sets the bearer token sent with every request.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// FetchConversations returns the conversation list of the session user.
func (c *APIClient) FetchConversations(ctx context.Context) ([]domain.ConversationSnapshot, error) {
	var snaps []domain.ConversationSnapshot
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, "", &snaps); err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	return snaps, nil
}

// FetchMessages returns one history page. An empty cursor asks for the newest page.
func (c *APIClient) FetchMessages(ctx context.Context, conversationID, cursor string, limit int) (*domain.MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/chat/conversations/%s/messages", url.PathEscape(conversationID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page domain.MessagePage
	if err := c.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return &page, nil
}

// MarkRead confirms that the session user has read a conversation.
func (c *APIClient) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/chat/conversations/%s/read", url.PathEscape(conversationID))
	if err := c.do(ctx, http.MethodPost, path, nil, "", nil); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// Upload sends a file as multipart form field "file".
func (c *APIClient) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*domain.Attachment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload body: %w", err)
	}

	var att domain.Attachment
	if err := c.do(ctx, http.MethodPost, c.uploadPath, &body, mw.FormDataContentType(), &att); err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	if att.URL == "" {
		return nil, fmt.Errorf("failed to upload file: %w: empty attachment url", ErrAPI)
	}
	if att.Filename == "" {
		att.Filename = filename
	}
	if att.ContentType == "" {
		att.ContentType = contentType
	}
	return &att, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if msg := envelopeError(data); msg != "" {
			return fmt.Errorf("%w: status %d: %s", ErrAPI, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	return decode(data, out)
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// decode accepts both bare payloads and {success, data, error} envelopes.
func decode(data []byte, out interface{}) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var env envelope
		if err := json.Unmarshal(data, &env); err == nil && env.Success != nil {
			if !*env.Success {
				return fmt.Errorf("%w: %s", ErrAPI, errorText(env.Error))
			}
			data = env.Data
		}
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func envelopeError(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return errorText(env.Error)
}

// errorText reads an error given either as a string or as {code, message}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var info struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &info); err == nil {
		if info.Message != "" {
			return info.Message
		}
		return info.Code
	}
	return string(raw)
}
