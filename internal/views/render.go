package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

var (
	accentColor = lipgloss.Color("#7C3AED")
	onlineColor = lipgloss.Color("#10B981")
	mutedColor  = lipgloss.Color("#9CA3AF")
	errorColor  = lipgloss.Color("#EF4444")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	onlineStyle   = lipgloss.NewStyle().Foreground(onlineColor)
	unreadStyle   = lipgloss.NewStyle().Bold(true)
	activeStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(accentColor)
	inactiveStyle = lipgloss.NewStyle().PaddingLeft(1)
	mineStyle     = lipgloss.NewStyle().Foreground(onlineColor)
	theirsStyle   = lipgloss.NewStyle()
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// contentWidth is the room left inside the panel for a total width.
func contentWidth(width int) int {
	return max(20, width-4) - panelStyle.GetHorizontalPadding()
}

// RenderList draws the conversation list at the given width.
func RenderList(l ConversationList, width int) string {
	inner := contentWidth(width)
	lines := []string{titleStyle.Render("Conversations") + mutedStyle.Render("  "+string(l.Connection))}
	if l.Error != "" {
		lines = append(lines, errorStyle.Render(truncate("could not load conversations: "+l.Error, inner)))
	}
	if len(l.Rows) == 0 {
		lines = append(lines, mutedStyle.Render("no conversations"))
	}

	for _, r := range l.Rows {
		dot := mutedStyle.Render("○")
		if r.Online {
			dot = onlineStyle.Render("●")
		}
		name := r.PartnerName
		if r.HasUnread {
			name = unreadStyle.Render(fmt.Sprintf("%s (%d)", name, max(1, r.UnreadCount)))
		}
		sub := r.Preview
		if r.Typing {
			sub = "typing..."
		}
		row := dot + " " + name + "\n  " + mutedStyle.Render(truncate(sub, inner-3))

		style := inactiveStyle
		if r.Active {
			style = activeStyle
		}
		lines = append(lines, style.Render(row))
	}
	if l.Toast != "" {
		lines = append(lines, errorStyle.Render(truncate(l.Toast, inner)))
	}
	return panelStyle.Width(inner + panelStyle.GetHorizontalPadding()).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderDetail draws the message pane at the given width.
func RenderDetail(d *ConversationDetail, width int) string {
	inner := contentWidth(width)
	header := titleStyle.Render(d.PartnerName)
	if d.Online {
		header += onlineStyle.Render("  online")
	}

	lines := []string{header}
	switch {
	case d.Loading:
		lines = append(lines, mutedStyle.Render("loading..."))
	case d.HasMore:
		lines = append(lines, mutedStyle.Render("older messages available"))
	}
	if d.HistoryError != "" {
		lines = append(lines, errorStyle.Render(truncate("could not load messages: "+d.HistoryError, inner)))
	}

	for _, m := range d.Messages {
		lines = append(lines, renderMessage(m, inner))
	}
	if d.Typing {
		lines = append(lines, mutedStyle.Render(d.PartnerName+" is typing..."))
	}
	return panelStyle.Width(inner + panelStyle.GetHorizontalPadding()).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderMessage(m MessageRow, width int) string {
	body := m.Content
	if m.Attachment != nil {
		att := "[" + m.Attachment.Filename + "]"
		if body == "" {
			body = att
		} else {
			body += " " + att
		}
	}

	var meta []string
	meta = append(meta, m.CreatedAt.Format("15:04"))
	if m.Edited && !m.Deleted {
		meta = append(meta, "edited")
	}
	if m.Mine {
		meta = append(meta, tick(m))
	}
	for _, r := range m.Reactions {
		meta = append(meta, fmt.Sprintf("%s%d", r.Emoji, r.Count))
	}

	style := theirsStyle
	align := lipgloss.Left
	if m.Mine {
		style = mineStyle
		align = lipgloss.Right
	}
	if m.Deleted {
		style = mutedStyle.Italic(true)
	}

	// Each row is cut to width before styling so none of them wraps.
	rows := []string{
		style.Render(truncate(body, width)),
		mutedStyle.Render(truncate(strings.Join(meta, " "), width)),
	}
	if m.Status == domain.StatusFailed {
		rows = append(rows, errorStyle.Render(truncate("not sent: "+m.Failure, width)))
	}
	for i, r := range rows {
		rows[i] = lipgloss.PlaceHorizontal(width, align, r)
	}
	return lipgloss.JoinVertical(align, rows...)
}

func tick(m MessageRow) string {
	switch {
	case m.Status == domain.StatusPending:
		return "…"
	case m.Status == domain.StatusFailed:
		return "!"
	case m.Read:
		return "✓✓"
	default:
		return "✓"
	}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
