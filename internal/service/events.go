package service

import (
	"context"
	"encoding/json"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/transport"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

func (s *chatService) registerHandlers() {
	routes := map[string]transport.Handler{
		domain.EventConnect:         s.onConnect,
		domain.EventDisconnect:      s.onDisconnect,
		domain.EventNewMessage:      s.onNewMessage,
		domain.EventMessagesRead:    s.onMessagesRead,
		domain.EventUserOnline:      s.onUserOnline,
		domain.EventUserOffline:     s.onUserOffline,
		domain.EventOnlineUsersList: s.onOnlineUsers,
		domain.EventReactionUpdated: s.onReactionUpdated,
		domain.EventMessageEdited:   s.onMessageEdited,
		domain.EventMessageDeleted:  s.onMessageDeleted,
		domain.EventTyping:          s.onTyping,
		domain.EventMessageError:    s.onMessageError,
	}

	offs := make([]func(), 0, len(routes))
	for event, h := range routes {
		offs = append(offs, s.transport.On(event, h))
	}

	s.mu.Lock()
	s.offs = append(s.offs, offs...)
	s.mu.Unlock()
}

// decode unmarshals an event payload, dropping and counting malformed ones.
func decode[T any](s *chatService, event string, raw json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn().Err(err).Str(pkglog.FieldEvent, event).Msg("dropping malformed event payload")
		s.metrics.EventDropped("malformed_payload")
		return v, false
	}
	return v, true
}

func (s *chatService) dropInvalid(event, reason string) {
	s.logger.Warn().Str(pkglog.FieldEvent, event).Str("reason", reason).Msg("dropping invalid event")
	s.metrics.EventDropped("invalid_payload")
}

func (s *chatService) onConnect(raw json.RawMessage) {
	p, _ := decode[domain.ConnectPayload](s, domain.EventConnect, raw)
	s.store.Dispatch(reconciler.ConnectionChanged{Status: domain.ConnectionOnline})
	if !p.Reconnect {
		return
	}

	// Events missed while offline are only recoverable from the REST list.
	s.background(func(ctx context.Context) {
		if err := s.store.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("conversation list refresh after reconnect failed")
		}
	})
}

func (s *chatService) onDisconnect(json.RawMessage) {
	s.tracker.Reset()
	if s.isStarted() {
		s.store.Dispatch(reconciler.ConnectionChanged{Status: domain.ConnectionReconnecting})
	}
}

func (s *chatService) onNewMessage(raw json.RawMessage) {
	m, ok := decode[domain.Message](s, domain.EventNewMessage, raw)
	if !ok {
		return
	}
	if m.ID == "" || m.SenderID == "" || m.RecipientID == "" {
		s.dropInvalid(domain.EventNewMessage, "missing id or participants")
		return
	}

	self := s.store.State().SelfID
	if m.SenderID != self {
		s.tracker.StopTyping(m.SenderID)
	}
	st := s.store.Dispatch(reconciler.MessageReceived{Message: m})

	active, ok := st.Active()
	if !ok || m.SenderID == self || active.Partner.ID != m.SenderID {
		return
	}
	if err := s.store.MarkConversationRead(context.Background(), active.ID); err != nil {
		s.logger.Warn().Err(err).Str(pkglog.FieldConversationID, active.ID).Msg("auto mark read failed")
	}
}

func (s *chatService) onMessagesRead(raw json.RawMessage) {
	p, ok := decode[domain.MessagesReadPayload](s, domain.EventMessagesRead, raw)
	if !ok {
		return
	}
	if p.ReaderID == "" || p.ConversationPartnerID == "" {
		s.dropInvalid(domain.EventMessagesRead, "missing reader or partner")
		return
	}
	receipt := reconciler.ReadReceipt{
		ReaderID:  p.ReaderID,
		PartnerID: p.ConversationPartnerID,
		Count:     p.Count,
		At:        s.clock.Now(),
	}
	if p.ReadAt != nil {
		receipt.At = *p.ReadAt
		receipt.UpTo = *p.ReadAt
	}
	s.store.Dispatch(receipt)
}

func (s *chatService) onUserOnline(raw json.RawMessage) {
	if p, ok := decode[domain.UserPresencePayload](s, domain.EventUserOnline, raw); ok && p.UserID != "" {
		s.tracker.SetOnline(p.UserID, true)
	}
}

func (s *chatService) onUserOffline(raw json.RawMessage) {
	if p, ok := decode[domain.UserPresencePayload](s, domain.EventUserOffline, raw); ok && p.UserID != "" {
		s.tracker.SetOnline(p.UserID, false)
	}
}

func (s *chatService) onOnlineUsers(raw json.RawMessage) {
	// Some servers send the bare id list.
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		s.tracker.ReplaceOnline(ids)
		return
	}
	if p, ok := decode[domain.OnlineUsersPayload](s, domain.EventOnlineUsersList, raw); ok {
		s.tracker.ReplaceOnline(p.UserIDs)
	}
}

func (s *chatService) onReactionUpdated(raw json.RawMessage) {
	if p, ok := decode[domain.ReactionUpdatedPayload](s, domain.EventReactionUpdated, raw); ok {
		s.store.Dispatch(reconciler.ReactionsUpdated{ConversationID: p.ConversationID, MessageID: p.MessageID, Reactions: p.Reactions})
	}
}

func (s *chatService) onMessageEdited(raw json.RawMessage) {
	p, ok := decode[domain.MessageEditedPayload](s, domain.EventMessageEdited, raw)
	if !ok {
		return
	}
	editedAt := p.EditedAt
	if editedAt.IsZero() {
		editedAt = s.clock.Now()
	}
	s.store.Dispatch(reconciler.MessageEdited{ConversationID: p.ConversationID, MessageID: p.MessageID, Content: p.Content, EditedAt: editedAt})
}

func (s *chatService) onMessageDeleted(raw json.RawMessage) {
	if p, ok := decode[domain.MessageDeletedPayload](s, domain.EventMessageDeleted, raw); ok {
		s.store.Dispatch(reconciler.MessageDeleted{ConversationID: p.ConversationID, MessageID: p.MessageID})
	}
}

func (s *chatService) onTyping(raw json.RawMessage) {
	p, ok := decode[domain.TypingEventPayload](s, domain.EventTyping, raw)
	if !ok || p.UserID == "" || p.UserID == s.store.State().SelfID {
		return
	}
	s.tracker.Typing(p.UserID)
}

func (s *chatService) onMessageError(raw json.RawMessage) {
	p, ok := decode[domain.MessageErrorPayload](s, domain.EventMessageError, raw)
	if !ok {
		return
	}
	if p.ClientID == "" {
		s.dropInvalid(domain.EventMessageError, "missing client id")
		return
	}
	reason := p.Message
	if reason == "" {
		reason = p.Code
	}
	s.store.Dispatch(reconciler.MessageFailed{TempID: p.ClientID, Reason: reason})
}
