package reconciler

import (
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

// Action is one input to the reducer. Every source (REST results, socket
// events, timers, user intent) is expressed as an Action.
type Action interface {
	actionName() string
}

// Name returns the metric/log name of an action.
func Name(a Action) string { return a.actionName() }

// SessionStarted resets the state for a newly authenticated user.
type SessionStarted struct{ SelfID string }

// SnapshotLoaded merges a REST conversation list.
type SnapshotLoaded struct{ Snapshots []domain.ConversationSnapshot }

// SnapshotFailed records a conversation list fetch failure.
type SnapshotFailed struct{ Err string }

// ConversationSelected sets the active conversation ("" clears it).
type ConversationSelected struct{ ID string }

// HistoryRequested marks a history fetch as in flight.
type HistoryRequested struct{ ConversationID string }

// HistoryLoaded applies a history page unless the selection moved on.
type HistoryLoaded struct {
	ConversationID string
	Page           domain.MessagePage
}

// HistoryFailed records a history fetch failure.
type HistoryFailed struct {
	ConversationID string
	Err            string
}

// ConversationRead marks every incoming message of a conversation read locally.
type ConversationRead struct {
	ID string
	At time.Time
}

// MessageAppended inserts a local or server message. Optimistic messages
// must carry a ClientID and register a pending reconciliation slot.
type MessageAppended struct {
	Message    domain.Message
	Optimistic bool
}

// MessageReconciled replaces the optimistic entry TempID with its server copy.
type MessageReconciled struct {
	TempID  string
	Message domain.Message
}

// MessageReceived is an inbound message from the socket.
type MessageReceived struct{ Message domain.Message }

// MessageFailed marks an optimistic entry as failed; the slot stays open.
type MessageFailed struct {
	TempID string
	Reason string
}

// MessageRetried moves a failed entry back to pending.
type MessageRetried struct{ TempID string }

// MessageDiscarded drops an unconfirmed optimistic entry.
type MessageDiscarded struct{ TempID string }

// MessageEdited replaces the content of a message.
type MessageEdited struct {
	ConversationID string
	MessageID      string
	Content        string
	EditedAt       time.Time
}

// MessageDeleted soft-deletes a message.
type MessageDeleted struct {
	ConversationID string
	MessageID      string
}

// ReactionsUpdated replaces the reaction list of a message.
type ReactionsUpdated struct {
	ConversationID string
	MessageID      string
	Reactions      []domain.Reaction
}

// ReadReceipt is a batch read notification: ReaderID read the newest Count
// unread messages from PartnerID, or all of them when Count <= 0. UpTo is the
// server's read time when the event carries one and then also bounds the
// batch by created_at. At is stamped on the messages.
type ReadReceipt struct {
	ReaderID  string
	PartnerID string
	Count     int
	At        time.Time
	UpTo      time.Time
}

// PresenceReplaced sets the online set to exactly UserIDs.
type PresenceReplaced struct{ UserIDs []string }

type UserOnline struct{ UserID string }

type UserOffline struct{ UserID string }

// TypingStarted raises the typing flag of the conversation with UserID.
type TypingStarted struct{ UserID string }

// TypingExpired clears it.
type TypingExpired struct{ UserID string }

// ConnectionChanged records the transport state. Anything but online
// empties presence and typing.
type ConnectionChanged struct{ Status domain.ConnectionStatus }

type ToastRaised struct{ Text string }

type ToastCleared struct{}

func (SessionStarted) actionName() string       { return "session_started" }
func (SnapshotLoaded) actionName() string       { return "snapshot_loaded" }
func (SnapshotFailed) actionName() string       { return "snapshot_failed" }
func (ConversationSelected) actionName() string { return "conversation_selected" }
func (HistoryRequested) actionName() string     { return "history_requested" }
func (HistoryLoaded) actionName() string        { return "history_loaded" }
func (HistoryFailed) actionName() string        { return "history_failed" }
func (ConversationRead) actionName() string     { return "conversation_read" }
func (MessageAppended) actionName() string      { return "message_appended" }
func (MessageReconciled) actionName() string    { return "message_reconciled" }
func (MessageReceived) actionName() string      { return "message_received" }
func (MessageFailed) actionName() string        { return "message_failed" }
func (MessageRetried) actionName() string       { return "message_retried" }
func (MessageDiscarded) actionName() string     { return "message_discarded" }
func (MessageEdited) actionName() string        { return "message_edited" }
func (MessageDeleted) actionName() string       { return "message_deleted" }
func (ReactionsUpdated) actionName() string     { return "reactions_updated" }
func (ReadReceipt) actionName() string          { return "read_receipt" }
func (PresenceReplaced) actionName() string     { return "presence_replaced" }
func (UserOnline) actionName() string           { return "user_online" }
func (UserOffline) actionName() string          { return "user_offline" }
func (TypingStarted) actionName() string        { return "typing_started" }
func (TypingExpired) actionName() string        { return "typing_expired" }
func (ConnectionChanged) actionName() string    { return "connection_changed" }
func (ToastRaised) actionName() string          { return "toast_raised" }
func (ToastCleared) actionName() string         { return "toast_cleared" }
