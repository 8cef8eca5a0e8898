package views

import (
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
)

const deletedText = "This message was deleted"

// MessageRow is one rendered message.
type MessageRow struct {
	Key        string               `json:"key"`
	ID         string               `json:"id,omitempty"`
	ClientID   string               `json:"client_id,omitempty"`
	Mine       bool                 `json:"mine"`
	Content    string               `json:"content"`
	Attachment *domain.Attachment   `json:"attachment,omitempty"`
	Reactions  []ReactionCount      `json:"reactions,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	Edited     bool                 `json:"edited"`
	Deleted    bool                 `json:"deleted"`
	Read       bool                 `json:"read"`
	Status     domain.MessageStatus `json:"status"`
	Failure    string               `json:"failure,omitempty"`
}

// ReactionCount groups reactions by emoji in first-seen order.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Mine  bool   `json:"mine"`
}

// ConversationDetail is the message pane of one conversation.
type ConversationDetail struct {
	ID           string       `json:"id"`
	PartnerID    string       `json:"partner_id"`
	PartnerName  string       `json:"partner_name"`
	Online       bool         `json:"online"`
	Typing       bool         `json:"typing"`
	Loading      bool         `json:"loading"`
	HasMore      bool         `json:"has_more"`
	HistoryError string       `json:"history_error,omitempty"`
	Messages     []MessageRow `json:"messages"`
}

// Detail builds the message pane for conversation id.
func Detail(st *reconciler.State, id string) (*ConversationDetail, bool) {
	c, ok := st.Conversation(id)
	if !ok {
		return nil, false
	}
	d := &ConversationDetail{
		ID:           c.ID,
		PartnerID:    c.Partner.ID,
		PartnerName:  partnerName(c.Partner),
		Online:       st.IsOnline(c.Partner.ID),
		Typing:       st.IsTyping(c.ID),
		Loading:      c.Loading,
		HasMore:      c.HasMoreMessages,
		HistoryError: c.HistoryError,
		Messages:     make([]MessageRow, 0, len(c.Messages)),
	}
	for i := range c.Messages {
		d.Messages = append(d.Messages, messageRow(&c.Messages[i], st.SelfID))
	}
	return d, true
}

func messageRow(m *domain.Message, selfID string) MessageRow {
	row := MessageRow{
		Key:       m.Key(),
		ID:        m.ID,
		ClientID:  m.ClientID,
		Mine:      m.SenderID == selfID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Edited:    m.EditedAt != nil,
		Deleted:   m.Deleted,
		Read:      m.ReadAt != nil,
		Status:    m.Status,
		Failure:   m.FailureReason,
	}
	if row.Status == "" {
		row.Status = domain.StatusSent
	}
	if m.Deleted {
		row.Content = deletedText
		return row
	}
	if m.Attachment != nil {
		a := *m.Attachment
		row.Attachment = &a
	}
	row.Reactions = countReactions(m.Reactions, selfID)
	return row
}

func countReactions(rs []domain.Reaction, selfID string) []ReactionCount {
	if len(rs) == 0 {
		return nil
	}
	var out []ReactionCount
	idx := make(map[string]int)
	for _, r := range rs {
		i, ok := idx[r.Emoji]
		if !ok {
			i = len(out)
			idx[r.Emoji] = i
			out = append(out, ReactionCount{Emoji: r.Emoji})
		}
		out[i].Count++
		if r.UserID == selfID {
			out[i].Mine = true
		}
	}
	return out
}
