package views

import (
	"sort"
	"time"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
)

// ConversationRow is one entry of the conversation list.
type ConversationRow struct {
	ID           string    `json:"id"`
	PartnerID    string    `json:"partner_id"`
	PartnerName  string    `json:"partner_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	HasUnread    bool      `json:"has_unread"`
	UnreadCount  int       `json:"unread_count"`
	Online       bool      `json:"online"`
	Typing       bool      `json:"typing"`
	Active       bool      `json:"active"`
}

// ConversationList is the list pane.
type ConversationList struct {
	Rows       []ConversationRow       `json:"rows"`
	Error      string                  `json:"error,omitempty"`
	Connection domain.ConnectionStatus `json:"connection"`
	Toast      string                  `json:"toast,omitempty"`
}

// List builds the list pane, most recent activity first. Conversations
// without messages sort last, by partner name.
func List(st *reconciler.State) ConversationList {
	out := ConversationList{
		Rows:       make([]ConversationRow, 0, len(st.Conversations)),
		Error:      st.ListError,
		Connection: st.Connection,
		Toast:      st.Toast,
	}
	for _, c := range st.Conversations {
		row := ConversationRow{
			ID:          c.ID,
			PartnerID:   c.Partner.ID,
			PartnerName: partnerName(c.Partner),
			AvatarURL:   c.Partner.AvatarURL,
			HasUnread:   c.HasUnread,
			UnreadCount: c.UnreadCount,
			Online:      st.IsOnline(c.Partner.ID),
			Typing:      st.IsTyping(c.ID),
			Active:      st.ActiveID == c.ID,
		}
		if lm := c.LastMessage; lm != nil {
			row.LastActivity = lm.CreatedAt
			row.Preview = preview(lm, st.SelfID)
		}
		out.Rows = append(out.Rows, row)
	}

	sort.Slice(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i], out.Rows[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if a.PartnerName != b.PartnerName {
			return a.PartnerName < b.PartnerName
		}
		return a.ID < b.ID
	})
	return out
}

func partnerName(p domain.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

func preview(m *domain.Message, selfID string) string {
	var text string
	switch {
	case m.Deleted:
		text = deletedText
	case m.Content != "":
		text = m.Content
	case m.Attachment != nil:
		text = "Attachment: " + m.Attachment.Filename
	}
	if m.SenderID == selfID && !m.Deleted {
		text = "You: " + text
	}
	return text
}
