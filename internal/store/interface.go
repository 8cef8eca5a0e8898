package store

import (
	"context"
	"errors"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotInitialized       = errors.New("store not initialized")
)

// ConversationAPI is the REST collaborator.
type ConversationAPI interface {
	FetchConversations(ctx context.Context) ([]domain.ConversationSnapshot, error)
	FetchMessages(ctx context.Context, conversationID, cursor string, limit int) (*domain.MessagePage, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Sender emits socket events.
type Sender interface {
	Send(event string, payload interface{}) error
}

// Listener receives every new state. It must not call Dispatch or Subscribe.
type Listener func(*reconciler.State)
