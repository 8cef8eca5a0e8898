package reconciler

import (
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

// State is the whole chat state tree. A State handed out by the reducer is
// never mutated afterwards; readers may keep it as long as they like.
type State struct {
	SelfID        string
	Conversations map[string]*domain.Conversation
	ByPartner     map[string]string // partner id -> conversation id
	ActiveID      string
	Online        map[string]bool
	Typing        map[string]bool       // conversation id
	Pending       map[string]string     // client temp id -> conversation id
	ReadMarkers   map[string]ReadMarker // partner id
	Connection    domain.ConnectionStatus
	ListError     string
	Toast         string
	Version       uint64
}

// ReadMarker holds the part of a read receipt that covers messages not yet
// acknowledged by the server when it arrived.
type ReadMarker struct {
	At   time.Time
	UpTo time.Time // zero: no created_at bound

	// ClientIDs are optimistic entries the receipt covers once they are acked.
	ClientIDs map[string]bool

	// Remaining counts covered messages this session has not seen yet.
	// -1 means every message within UpTo.
	Remaining int
}

func (m ReadMarker) done() bool { return len(m.ClientIDs) == 0 && m.Remaining == 0 }

// merge folds a later receipt into m.
func (m ReadMarker) merge(o ReadMarker) ReadMarker {
	out := ReadMarker{At: m.At, ClientIDs: make(map[string]bool, len(m.ClientIDs)+len(o.ClientIDs))}
	if o.At.After(out.At) {
		out.At = o.At
	}
	for id := range m.ClientIDs {
		out.ClientIDs[id] = true
	}
	for id := range o.ClientIDs {
		out.ClientIDs[id] = true
	}

	if m.UpTo.IsZero() || o.UpTo.IsZero() {
		out.Remaining = max(m.Remaining, 0) + max(o.Remaining, 0)
		return out
	}
	out.UpTo = m.UpTo
	if o.UpTo.After(out.UpTo) {
		out.UpTo = o.UpTo
	}
	if m.Remaining < 0 || o.Remaining < 0 {
		out.Remaining = -1
	} else {
		out.Remaining = m.Remaining + o.Remaining
	}
	return out
}

// NewState returns an empty state for selfID.
func NewState(selfID string) *State {
	return &State{
		SelfID:        selfID,
		Conversations: make(map[string]*domain.Conversation),
		ByPartner:     make(map[string]string),
		Online:        make(map[string]bool),
		Typing:        make(map[string]bool),
		Pending:       make(map[string]string),
		ReadMarkers:   make(map[string]ReadMarker),
		Connection:    domain.ConnectionIdle,
	}
}

// Conversation looks a conversation up by id.
func (s *State) Conversation(id string) (*domain.Conversation, bool) {
	c, ok := s.Conversations[id]
	return c, ok
}

// ConversationWith looks a conversation up by partner id.
func (s *State) ConversationWith(partnerID string) (*domain.Conversation, bool) {
	id, ok := s.ByPartner[partnerID]
	if !ok {
		return nil, false
	}
	return s.Conversation(id)
}

// Active returns the selected conversation.
func (s *State) Active() (*domain.Conversation, bool) {
	if s.ActiveID == "" {
		return nil, false
	}
	return s.Conversation(s.ActiveID)
}

// IsOnline reports whether userID is in the presence set.
func (s *State) IsOnline(userID string) bool { return s.Online[userID] }

// IsTyping reports whether the partner of a conversation is typing.
func (s *State) IsTyping(conversationID string) bool { return s.Typing[conversationID] }

// IsPending reports whether tempID still awaits reconciliation.
func (s *State) IsPending(tempID string) bool {
	_, ok := s.Pending[tempID]
	return ok
}

func (s *State) clone() *State {
	ns := *s
	ns.Conversations = make(map[string]*domain.Conversation, len(s.Conversations))
	for k, v := range s.Conversations {
		ns.Conversations[k] = v
	}
	ns.ByPartner = copyMap(s.ByPartner)
	ns.Online = copyMap(s.Online)
	ns.Typing = copyMap(s.Typing)
	ns.Pending = copyMap(s.Pending)
	ns.ReadMarkers = copyMap(s.ReadMarkers)
	return &ns
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cc := *c
	if c.Messages != nil {
		cc.Messages = make([]domain.Message, len(c.Messages))
		for i, m := range c.Messages {
			cc.Messages[i] = m.Clone()
		}
	}
	if c.LastMessage != nil {
		lm := c.LastMessage.Clone()
		cc.LastMessage = &lm
	}
	return &cc
}
