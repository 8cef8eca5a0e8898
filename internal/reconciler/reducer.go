package reconciler

import (
	"sort"
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

// Config tunes the matching rules.
type Config struct {
	// MatchWindow bounds how far apart in time an inbound self-sent message
	// and an optimistic entry may be to match without a correlation id.
	MatchWindow time.Duration
}

// DefaultMatchWindow is used when Config.MatchWindow is zero.
const DefaultMatchWindow = 30 * time.Second

// Reducer merges actions into state. It holds no state of its own.
type Reducer struct {
	matchWindow time.Duration
}

// New creates a Reducer.
func New(cfg Config) *Reducer {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = DefaultMatchWindow
	}
	return &Reducer{matchWindow: cfg.MatchWindow}
}

// Reduce returns the state after applying a. s is left untouched.
func (r *Reducer) Reduce(s *State, a Action) *State {
	if s == nil {
		s = NewState("")
	}
	if started, ok := a.(SessionStarted); ok {
		ns := NewState(started.SelfID)
		ns.Version = s.Version + 1
		return ns
	}

	t := &txn{r: r, st: s.clone(), touched: make(map[string]bool)}

	switch a := a.(type) {
	case SnapshotLoaded:
		for _, snap := range a.Snapshots {
			t.mergeSnapshot(snap)
		}
		t.st.ListError = ""

	case SnapshotFailed:
		t.st.ListError = a.Err

	case ConversationSelected:
		if a.ID == "" {
			t.st.ActiveID = ""
		} else if _, ok := t.st.Conversations[a.ID]; ok {
			t.st.ActiveID = a.ID
		}

	case HistoryRequested:
		if c := t.conv(a.ConversationID); c != nil {
			c.Loading = true
			c.HistoryError = ""
		}

	case HistoryLoaded:
		t.applyHistory(a)

	case HistoryFailed:
		if c := t.conv(a.ConversationID); c != nil {
			c.Loading = false
			if t.st.ActiveID == a.ConversationID {
				c.HistoryError = a.Err
			}
		}

	case ConversationRead:
		if c := t.conv(a.ID); c != nil {
			t.markIncomingRead(c, a.At, time.Time{})
			t.refresh(c)
		}

	case MessageAppended:
		t.append(a.Message, a.Optimistic)

	case MessageReconciled:
		t.reconcile(a.TempID, a.Message)

	case MessageReceived:
		t.ingest(a.Message, true)

	case MessageFailed:
		t.updatePending(a.TempID, func(m *domain.Message) {
			m.Status = domain.StatusFailed
			m.FailureReason = a.Reason
		})

	case MessageRetried:
		t.updatePending(a.TempID, func(m *domain.Message) {
			m.Status = domain.StatusPending
			m.FailureReason = ""
		})

	case MessageDiscarded:
		t.discard(a.TempID)

	case MessageEdited:
		t.updateMessage(a.ConversationID, a.MessageID, func(m *domain.Message) {
			if m.Deleted {
				return
			}
			if m.EditedAt != nil && m.EditedAt.After(a.EditedAt) {
				return
			}
			at := a.EditedAt
			m.Content = a.Content
			m.EditedAt = &at
		})

	case MessageDeleted:
		t.updateMessage(a.ConversationID, a.MessageID, func(m *domain.Message) {
			m.Deleted = true
			m.Content = ""
			m.Attachment = nil
			m.Reactions = nil
		})

	case ReactionsUpdated:
		t.updateMessage(a.ConversationID, a.MessageID, func(m *domain.Message) {
			if m.Deleted {
				return
			}
			m.Reactions = append([]domain.Reaction(nil), a.Reactions...)
		})

	case ReadReceipt:
		t.applyReceipt(a)

	case PresenceReplaced:
		t.st.Online = make(map[string]bool, len(a.UserIDs))
		for _, id := range a.UserIDs {
			if id != "" {
				t.st.Online[id] = true
			}
		}

	case UserOnline:
		if a.UserID != "" {
			t.st.Online[a.UserID] = true
		}

	case UserOffline:
		delete(t.st.Online, a.UserID)

	case TypingStarted:
		if id, ok := t.st.ByPartner[a.UserID]; ok {
			t.st.Typing[id] = true
		}

	case TypingExpired:
		if id, ok := t.st.ByPartner[a.UserID]; ok {
			delete(t.st.Typing, id)
		}

	case ConnectionChanged:
		t.st.Connection = a.Status
		if a.Status != domain.ConnectionOnline {
			t.st.Online = make(map[string]bool)
			t.st.Typing = make(map[string]bool)
		}

	case ToastRaised:
		t.st.Toast = a.Text

	case ToastCleared:
		t.st.Toast = ""
	}

	t.st.Version = s.Version + 1
	return t.st
}

// txn is one reduction. Conversations are copied on first write.
type txn struct {
	r       *Reducer
	st      *State
	touched map[string]bool
}

func (t *txn) conv(id string) *domain.Conversation {
	c, ok := t.st.Conversations[id]
	if !ok {
		return nil
	}
	if !t.touched[id] {
		c = cloneConversation(c)
		t.st.Conversations[id] = c
		t.touched[id] = true
	}
	return c
}

// ensureConversation finds the conversation for a message, creating a
// placeholder keyed by the partner id when none exists yet.
func (t *txn) ensureConversation(conversationID, partnerID string) *domain.Conversation {
	if conversationID != "" {
		if _, ok := t.st.Conversations[conversationID]; ok {
			return t.conv(conversationID)
		}
		if existing, ok := t.st.ByPartner[partnerID]; ok {
			t.rekey(existing, conversationID)
			return t.conv(conversationID)
		}
	} else if existing, ok := t.st.ByPartner[partnerID]; ok {
		return t.conv(existing)
	}

	id := conversationID
	if id == "" {
		id = partnerID
	}
	c := &domain.Conversation{ID: id, Partner: domain.Participant{ID: partnerID}}
	t.st.Conversations[id] = c
	t.st.ByPartner[partnerID] = id
	t.touched[id] = true
	return c
}

// rekey moves a conversation to the id the server knows it by.
func (t *txn) rekey(oldID, newID string) {
	if oldID == newID {
		return
	}
	c := t.conv(oldID)
	if c == nil {
		return
	}
	delete(t.st.Conversations, oldID)
	delete(t.touched, oldID)

	c.ID = newID
	for i := range c.Messages {
		c.Messages[i].ConversationID = newID
	}
	if c.LastMessage != nil {
		c.LastMessage.ConversationID = newID
	}
	t.st.Conversations[newID] = c
	t.touched[newID] = true
	t.st.ByPartner[c.Partner.ID] = newID

	if t.st.ActiveID == oldID {
		t.st.ActiveID = newID
	}
	if t.st.Typing[oldID] {
		delete(t.st.Typing, oldID)
		t.st.Typing[newID] = true
	}
	for tmp, cid := range t.st.Pending {
		if cid == oldID {
			t.st.Pending[tmp] = newID
		}
	}
}

func (t *txn) mergeSnapshot(snap domain.ConversationSnapshot) {
	partnerID := snap.OtherUser.ID
	if snap.ID == "" || partnerID == "" || partnerID == t.st.SelfID {
		return
	}

	var c *domain.Conversation
	if _, ok := t.st.Conversations[snap.ID]; ok {
		c = t.conv(snap.ID)
	} else if existing, ok := t.st.ByPartner[partnerID]; ok {
		t.rekey(existing, snap.ID)
		c = t.conv(snap.ID)
	} else {
		c = &domain.Conversation{ID: snap.ID}
		t.st.Conversations[snap.ID] = c
		t.touched[snap.ID] = true
	}
	t.st.ByPartner[partnerID] = snap.ID

	// Profile fields are the only thing a snapshot may overwrite.
	c.Partner = snap.OtherUser

	if snap.LastMessage != nil {
		m := t.normalize(snap.LastMessage.Clone(), c.ID)
		if snap.HasUnread != nil && !*snap.HasUnread && m.SenderID != t.st.SelfID && m.ReadAt == nil {
			// Read elsewhere; the list only says that it was, not when.
			readAt := m.CreatedAt
			m.ReadAt = &readAt
		}
		t.applyMarker(c, &m, false)
		if c.MessagesFetched {
			t.upsert(c, m)
		} else {
			c.LastMessage = newer(c.LastMessage, &m)
		}
	}
	t.refresh(c)
}

func (t *txn) applyHistory(a HistoryLoaded) {
	c := t.conv(a.ConversationID)
	if c == nil {
		return
	}
	c.Loading = false
	if t.st.ActiveID != a.ConversationID {
		// Stale response: the selection moved on while the fetch was in flight.
		return
	}

	// Newest first, so a count-based read marker covers the latest messages.
	msgs := append([]domain.Message(nil), a.Page.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[j].Before(&msgs[i]) })
	for _, m := range msgs {
		m.ConversationID = c.ID
		t.ingest(m, false)
	}

	c = t.conv(a.ConversationID)
	c.MessagesFetched = true
	c.NextCursor = a.Page.NextCursor
	c.HasMoreMessages = a.Page.HasMore
	c.HistoryError = ""
	t.refresh(c)
}

func (t *txn) append(msg domain.Message, optimistic bool) {
	m := msg.Clone()
	if m.SenderID == "" || m.RecipientID == "" {
		return
	}
	partnerID := m.PartnerOf(t.st.SelfID)

	if !optimistic {
		if m.ID == "" {
			return
		}
		c := t.ensureConversation(m.ConversationID, partnerID)
		m = t.normalize(m, c.ID)
		t.applyMarker(c, &m, false)
		t.upsert(c, m)
		t.refresh(c)
		return
	}

	if m.ClientID == "" || t.st.IsPending(m.ClientID) {
		return
	}
	c := t.ensureConversation(m.ConversationID, partnerID)
	m.ID = ""
	m.ConversationID = c.ID
	m.Status = domain.StatusPending
	m.ReadAt = nil
	t.st.Pending[m.ClientID] = c.ID
	insertSorted(c, m)
	t.refresh(c)
}

// ingest applies a server-originated message: correlation id first, then
// server id dedup, then the field-equality heuristic, then plain insert.
func (t *txn) ingest(msg domain.Message, live bool) {
	m := msg.Clone()
	if m.ID == "" {
		return
	}
	self := t.st.SelfID
	if m.SenderID != self && m.RecipientID != self {
		return
	}

	if m.ClientID != "" && t.st.IsPending(m.ClientID) {
		t.reconcile(m.ClientID, m)
		return
	}

	partnerID := m.PartnerOf(self)
	c := t.ensureConversation(m.ConversationID, partnerID)

	if m.ClientID == "" && m.SenderID == self && indexByID(c, m.ID) < 0 {
		if tmp := t.matchOptimistic(c, &m); tmp != "" {
			t.reconcile(tmp, m)
			return
		}
	}

	m = t.normalize(m, c.ID)
	t.applyMarker(c, &m, false)
	t.upsert(c, m)
	if live && m.SenderID == partnerID {
		delete(t.st.Typing, c.ID)
	}
	t.refresh(c)
}

func (t *txn) reconcile(tempID string, msg domain.Message) {
	cid, ok := t.st.Pending[tempID]
	if !ok {
		// Already reconciled or discarded: fall back to id dedup.
		msg.ClientID = tempID
		if msg.ID != "" {
			t.ingest(msg, false)
		}
		return
	}
	if msg.ID == "" {
		return
	}
	delete(t.st.Pending, tempID)

	c := t.conv(cid)
	if c == nil {
		return
	}
	if i := indexByClientID(c, tempID); i >= 0 {
		c.Messages = removeAt(c.Messages, i)
	}

	m := t.normalize(msg.Clone(), c.ID)
	m.ClientID = tempID
	t.applyMarker(c, &m, true)
	t.upsert(c, m)
	t.refresh(c)
}

func (t *txn) matchOptimistic(c *domain.Conversation, m *domain.Message) string {
	for i := range c.Messages {
		cand := &c.Messages[i]
		if cand.ID != "" || !t.st.IsPending(cand.ClientID) {
			continue
		}
		if cand.SenderID != m.SenderID || cand.RecipientID != m.RecipientID {
			continue
		}
		if cand.Content != m.Content || cand.AttachmentURL() != m.AttachmentURL() {
			continue
		}
		if absDuration(cand.CreatedAt.Sub(m.CreatedAt)) > t.r.matchWindow {
			continue
		}
		return cand.ClientID
	}
	return ""
}

func (t *txn) updatePending(tempID string, fn func(*domain.Message)) {
	cid, ok := t.st.Pending[tempID]
	if !ok {
		return
	}
	c := t.conv(cid)
	if c == nil {
		return
	}
	if i := indexByClientID(c, tempID); i >= 0 && c.Messages[i].ID == "" {
		fn(&c.Messages[i])
		t.refresh(c)
	}
}

func (t *txn) discard(tempID string) {
	cid, ok := t.st.Pending[tempID]
	if !ok {
		return
	}
	delete(t.st.Pending, tempID)
	for partnerID, mk := range t.st.ReadMarkers {
		if !mk.ClientIDs[tempID] {
			continue
		}
		mk.ClientIDs = copyMap(mk.ClientIDs)
		delete(mk.ClientIDs, tempID)
		if mk.done() {
			delete(t.st.ReadMarkers, partnerID)
		} else {
			t.st.ReadMarkers[partnerID] = mk
		}
	}

	c := t.conv(cid)
	if c == nil {
		return
	}
	if i := indexByClientID(c, tempID); i >= 0 && c.Messages[i].ID == "" {
		c.Messages = removeAt(c.Messages, i)
	}
	t.refresh(c)
}

// updateMessage applies fn to every known copy of a message. Unknown
// messages are ignored; the next history fetch carries their final state.
func (t *txn) updateMessage(conversationID, messageID string, fn func(*domain.Message)) {
	if messageID == "" {
		return
	}
	ids := make([]string, 0, 1)
	if conversationID != "" {
		ids = append(ids, conversationID)
	} else {
		for id := range t.st.Conversations {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		orig, ok := t.st.Conversations[id]
		if !ok || !holds(orig, messageID) {
			continue
		}
		c := t.conv(id)
		if i := indexByID(c, messageID); i >= 0 {
			fn(&c.Messages[i])
		}
		if c.LastMessage != nil && c.LastMessage.ID == messageID {
			fn(c.LastMessage)
		}
		t.refresh(c)
		return
	}
}

func (t *txn) applyReceipt(a ReadReceipt) {
	self := t.st.SelfID
	if a.ReaderID == "" {
		return
	}

	if a.ReaderID == self {
		// Read on another device of the local user.
		if id, ok := t.st.ByPartner[a.PartnerID]; ok {
			c := t.conv(id)
			t.markIncomingRead(c, a.At, a.UpTo)
			t.refresh(c)
		}
		return
	}

	// At may come from the local clock; only UpTo is comparable to created_at.
	partnerID := a.ReaderID
	mk := ReadMarker{At: a.At, UpTo: a.UpTo}
	covered := 0
	if id, ok := t.st.ByPartner[partnerID]; ok {
		c := t.conv(id)
		for _, m := range newestFirst(c) {
			if a.Count > 0 && covered >= a.Count {
				break
			}
			if m.SenderID != self || m.ReadAt != nil {
				continue
			}
			if m.ID == "" {
				if m.Status == domain.StatusFailed || !t.st.IsPending(m.ClientID) {
					continue
				}
				if mk.ClientIDs == nil {
					mk.ClientIDs = make(map[string]bool)
				}
				mk.ClientIDs[m.ClientID] = true
				covered++
				continue
			}
			if !a.UpTo.IsZero() && m.CreatedAt.After(a.UpTo) {
				continue
			}
			at := a.At
			m.ReadAt = &at
			covered++
		}
		t.refresh(c)
	}

	switch {
	case a.Count > 0:
		mk.Remaining = a.Count - covered
	case !a.UpTo.IsZero():
		mk.Remaining = -1
	}
	if mk.done() {
		return
	}
	if prev, ok := t.st.ReadMarkers[partnerID]; ok {
		mk = prev.merge(mk)
	}
	t.st.ReadMarkers[partnerID] = mk
}

// newestFirst lists the messages of c from newest to oldest, including a
// snapshot last message that is not in the loaded list.
func newestFirst(c *domain.Conversation) []*domain.Message {
	out := make([]*domain.Message, 0, len(c.Messages)+1)
	if lm := c.LastMessage; lm != nil && lm.ID != "" && indexByID(c, lm.ID) < 0 {
		out = append(out, lm)
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		out = append(out, &c.Messages[i])
	}
	return out
}

// markIncomingRead sets read_at on unread messages from the partner. A
// non-zero upTo limits it to messages created no later than upTo.
func (t *txn) markIncomingRead(c *domain.Conversation, at, upTo time.Time) {
	self := t.st.SelfID
	read := func(m *domain.Message) {
		if m.SenderID == self || m.ReadAt != nil {
			return
		}
		if !upTo.IsZero() && m.CreatedAt.After(upTo) {
			return
		}
		ts := at
		m.ReadAt = &ts
	}
	for i := range c.Messages {
		read(&c.Messages[i])
	}
	if c.LastMessage != nil {
		read(c.LastMessage)
	}
}

// applyMarker applies a pending read marker to a self-sent message about to
// be stored in c. local is set when m is the server copy of an optimistic
// entry of this session.
func (t *txn) applyMarker(c *domain.Conversation, m *domain.Message, local bool) {
	partnerID := c.Partner.ID
	if m.SenderID != t.st.SelfID || m.RecipientID != partnerID || m.ReadAt != nil || m.ID == "" {
		return
	}
	mk, ok := t.st.ReadMarkers[partnerID]
	if !ok {
		return
	}
	if !mk.UpTo.IsZero() && m.CreatedAt.After(mk.UpTo) {
		return
	}

	if local && mk.ClientIDs[m.ClientID] {
		mk.ClientIDs = copyMap(mk.ClientIDs)
		delete(mk.ClientIDs, m.ClientID)
	} else {
		// Without a time bound a local send not listed on the marker was
		// made after the receipt.
		if mk.Remaining == 0 || (local && mk.UpTo.IsZero()) || (!local && holds(c, m.ID)) {
			return
		}
		if mk.Remaining > 0 {
			mk.Remaining--
		}
	}

	at := mk.At
	m.ReadAt = &at
	if mk.done() {
		delete(t.st.ReadMarkers, partnerID)
	} else {
		t.st.ReadMarkers[partnerID] = mk
	}
}

func (t *txn) normalize(m domain.Message, conversationID string) domain.Message {
	m.ConversationID = conversationID
	m.Status = domain.StatusSent
	m.FailureReason = ""
	return m
}

// upsert merges m over an existing copy with the same server id, or inserts it.
func (t *txn) upsert(c *domain.Conversation, m domain.Message) {
	if i := indexByID(c, m.ID); i >= 0 {
		merged := mergeMessage(c.Messages[i], m)
		c.Messages = removeAt(c.Messages, i)
		insertSorted(c, merged)
		return
	}
	insertSorted(c, m)
}

// refresh recomputes the derived fields of a conversation.
func (t *txn) refresh(c *domain.Conversation) {
	self := t.st.SelfID

	var newest *domain.Message
	if n := len(c.Messages); n > 0 {
		newest = &c.Messages[n-1]
	}
	switch {
	case newest != nil:
		// A snapshot may know a newer server message than the loaded list.
		keep := c.LastMessage != nil && c.LastMessage.ID != "" &&
			indexByID(c, c.LastMessage.ID) < 0 && newest.Before(c.LastMessage)
		if !keep {
			lm := newest.Clone()
			c.LastMessage = &lm
		}
	case c.LastMessage != nil && c.LastMessage.ID == "":
		c.LastMessage = nil
	}

	last := c.LastMessage
	c.HasUnread = last != nil && last.ReadAt == nil && last.SenderID != self

	unread := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID != self && m.ReadAt == nil {
			unread++
		}
	}
	if unread == 0 && c.HasUnread {
		unread = 1
	}
	c.UnreadCount = unread
}
