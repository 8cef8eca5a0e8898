package domain

import "time"

// Socket events from server.
const (
	EventNewMessage      = "new_message"
	EventMessagesRead    = "messages_read"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventOnlineUsersList = "online_users_list"
	EventReactionUpdated = "reaction_updated"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventTyping          = "typing"
	EventMessageError    = "message_error"
)

// Socket events to server.
const (
	EventSendMessage    = "send_message"
	EventMarkAsRead     = "mark_as_read"
	EventGetOnlineUsers = "get_online_users"
)

// Transport lifecycle events, emitted locally.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Client -> Server payloads

type SendMessagePayload struct {
	RecipientID    string      `json:"recipient_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ClientID       string      `json:"client_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

type MarkAsReadPayload struct {
	SenderID       string `json:"sender_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type TypingPayload struct {
	RecipientID string `json:"recipient_id"`
}

// Server -> Client payloads

type MessagesReadPayload struct {
	ReaderID              string     `json:"reader_id"`
	ConversationPartnerID string     `json:"conversation_partner_id"`
	Count                 int        `json:"count"`
	ReadAt                *time.Time `json:"read_at,omitempty"`
}

type UserPresencePayload struct {
	UserID string `json:"user_id"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type ReactionUpdatedPayload struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Reactions      []Reaction `json:"reactions"`
}

type MessageEditedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"edited_at"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type TypingEventPayload struct {
	UserID string `json:"user_id"`
}

type MessageErrorPayload struct {
	ClientID string `json:"client_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ConnectPayload accompanies the local connect lifecycle event.
type ConnectPayload struct {
	Reconnect bool `json:"reconnect"`
	Attempt   int  `json:"attempt"`
}
