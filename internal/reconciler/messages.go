package reconciler

import (
	"sort"
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

// insertSorted places m at its (created_at, key) position.
func insertSorted(c *domain.Conversation, m domain.Message) {
	i := sort.Search(len(c.Messages), func(i int) bool {
		return !c.Messages[i].Before(&m)
	})
	c.Messages = append(c.Messages, domain.Message{})
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = m
}

func removeAt(msgs []domain.Message, i int) []domain.Message {
	return append(msgs[:i], msgs[i+1:]...)
}

func indexByID(c *domain.Conversation, id string) int {
	if id == "" {
		return -1
	}
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByClientID(c *domain.Conversation, clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range c.Messages {
		if c.Messages[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

func holds(c *domain.Conversation, id string) bool {
	if indexByID(c, id) >= 0 {
		return true
	}
	return c.LastMessage != nil && c.LastMessage.ID == id
}

// mergeMessage combines two copies of one server message. Read state and
// soft deletion only move forward; the later edit wins.
func mergeMessage(old, incoming domain.Message) domain.Message {
	m := incoming.Clone()
	if m.ReadAt == nil && old.ReadAt != nil {
		t := *old.ReadAt
		m.ReadAt = &t
	}
	if m.ClientID == "" {
		m.ClientID = old.ClientID
	}
	if old.EditedAt != nil && (m.EditedAt == nil || old.EditedAt.After(*m.EditedAt)) {
		t := *old.EditedAt
		m.EditedAt = &t
		m.Content = old.Content
	}
	if m.Reactions == nil && old.Reactions != nil {
		m.Reactions = append([]domain.Reaction(nil), old.Reactions...)
	}
	if old.Deleted {
		m.Deleted = true
	}
	if m.Deleted {
		m.Content = ""
		m.Attachment = nil
		m.Reactions = nil
	}
	return m
}

// newer returns the later of two last-message candidates.
func newer(cur, cand *domain.Message) *domain.Message {
	if cur == nil {
		return cand
	}
	if cur.ID != "" && cur.ID == cand.ID {
		m := mergeMessage(*cur, *cand)
		return &m
	}
	if cur.Before(cand) {
		return cand
	}
	return cur
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
