package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrInvalidKey   = errors.New("invalid object key")
	ErrNotFound     = errors.New("object not found")
	ErrSizeMismatch = errors.New("object size mismatch")
)

// Object describes one stored attachment.
type Object struct {
	Key         string
	Filename    string // original name, used for the download disposition
	ContentType string
	Size        int64 // -1 when unknown
}

// Storage is the object store behind direct attachment uploads.
type Storage interface {
	Put(ctx context.Context, obj Object, r io.Reader) error
	Delete(ctx context.Context, key string) error

	// URL returns a link the chat partner can open. Stores without a public
	// prefix return a link valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}
