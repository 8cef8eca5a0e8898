package domain

import "time"

// Participant is the subset of a user profile the chat needs.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Attachment is the metadata returned by the upload collaborator.
type Attachment struct {
	URL         string `json:"attachment_url"`
	Filename    string `json:"original_filename"`
	ContentType string `json:"content_type"`
}

// Reaction is one emoji placed on a message by one user.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// MessageStatus is the local delivery state of a message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message is a single chat message. ID is empty until the server
// acknowledges an optimistic send; ClientID is the correlation id.
type Message struct {
	ID             string      `json:"id,omitempty"`
	ClientID       string      `json:"client_id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	SenderID       string      `json:"sender_id"`
	RecipientID    string      `json:"recipient_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	Deleted        bool        `json:"is_deleted,omitempty"`
	Reactions      []Reaction  `json:"reactions,omitempty"`

	Status        MessageStatus `json:"-"`
	FailureReason string        `json:"-"`
}

// Key identifies the message within a conversation: the server id once
// known, the client id before that.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

// Before reports whether m sorts before o by (created_at, key).
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Key() < o.Key()
}

// PartnerOf returns the other party of the message as seen by selfID.
func (m *Message) PartnerOf(selfID string) string {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// AttachmentURL returns the attachment url or "".
func (m *Message) AttachmentURL() string {
	if m.Attachment == nil {
		return ""
	}
	return m.Attachment.URL
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		m.ReadAt = &t
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

// Conversation is a one-to-one thread with a single partner.
type Conversation struct {
	ID              string
	Partner         Participant
	Messages        []Message
	LastMessage     *Message
	HasUnread       bool
	UnreadCount     int
	NextCursor      string
	HasMoreMessages bool
	MessagesFetched bool
	Loading         bool
	HistoryError    string
}

// ConversationSnapshot is one entry of the REST conversation list.
type ConversationSnapshot struct {
	ID          string      `json:"id"`
	OtherUser   Participant `json:"other_user"`
	LastMessage *Message    `json:"last_message,omitempty"`
	HasUnread   *bool       `json:"has_unread,omitempty"`
}

// MessagePage is one page of conversation history, oldest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// ConnectionStatus is the transport state as seen by the UI.
type ConnectionStatus string

const (
	ConnectionIdle         ConnectionStatus = "idle"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionOnline       ConnectionStatus = "online"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
)
