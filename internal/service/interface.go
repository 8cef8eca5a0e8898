package service

import (
	"context"
	"errors"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/composer"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/store"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/transport"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/upload"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
)

// ChatService owns one authenticated chat session.
type ChatService interface {
	// Start authenticates the session, connects the socket and loads the
	// conversation list.
	Start(ctx context.Context, token string) error

	// Stop disconnects and discards all session state.
	Stop() error

	State() *reconciler.State
	Subscribe(l store.Listener) func()

	// Select makes a conversation active, loading its history and marking it read.
	Select(ctx context.Context, conversationID string) error
	LoadOlder(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID string) error

	SetDraft(text string)
	Draft() composer.Draft
	AttachFile(ctx context.Context, f upload.File) (*domain.Attachment, error)
	ClearAttachment()

	// Send sends the draft to the active conversation and returns the
	// temporary id of the optimistic entry.
	Send(ctx context.Context) (string, error)
	Retry(tempID string) error
	Discard(tempID string) error

	DismissToast()
}

// Transport is the socket side of the session.
type Transport interface {
	Connect(token string) error
	Disconnect()
	Send(event string, payload interface{}) error
	On(event string, h transport.Handler) func()
}

// TokenSetter receives the session token for REST calls.
type TokenSetter interface {
	SetToken(token string)
}
