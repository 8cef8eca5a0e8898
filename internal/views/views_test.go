package views

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func buildState(actions ...reconciler.Action) *reconciler.State {
	r := reconciler.New(reconciler.Config{})
	st := r.Reduce(nil, reconciler.SessionStarted{SelfID: "me"})
	st = r.Reduce(st, reconciler.SnapshotLoaded{Snapshots: []domain.ConversationSnapshot{
		{ID: "c1", OtherUser: domain.Participant{ID: "u1", DisplayName: "Ana"}},
		{ID: "c2", OtherUser: domain.Participant{ID: "u2", DisplayName: "Ben"}},
		{ID: "c3", OtherUser: domain.Participant{ID: "u3"}},
	}})
	for _, a := range actions {
		st = r.Reduce(st, a)
	}
	return st
}

func TestListOrdersByLastActivity(t *testing.T) {
	st := buildState(
		reconciler.MessageReceived{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", RecipientID: "me", Content: "old", CreatedAt: at(1)}},
		reconciler.MessageReceived{Message: domain.Message{ID: "m2", ConversationID: "c2", SenderID: "me", RecipientID: "u2", Content: "new", CreatedAt: at(5)}},
		reconciler.UserOnline{UserID: "u1"},
		reconciler.TypingStarted{UserID: "u2"},
		reconciler.ConversationSelected{ID: "c2"},
	)

	l := List(st)
	require.Len(t, l.Rows, 3)
	assert.Equal(t, []string{"c2", "c1", "c3"}, []string{l.Rows[0].ID, l.Rows[1].ID, l.Rows[2].ID})

	assert.Equal(t, "You: new", l.Rows[0].Preview)
	assert.True(t, l.Rows[0].Active)
	assert.True(t, l.Rows[0].Typing)
	assert.False(t, l.Rows[0].HasUnread)

	assert.Equal(t, "old", l.Rows[1].Preview)
	assert.True(t, l.Rows[1].Online)
	assert.True(t, l.Rows[1].HasUnread)
	assert.Equal(t, 1, l.Rows[1].UnreadCount)

	assert.Equal(t, "u3", l.Rows[2].PartnerName)
	assert.Empty(t, l.Rows[2].Preview)
}

func TestListCarriesErrorState(t *testing.T) {
	st := buildState(reconciler.SnapshotFailed{Err: "timeout"}, reconciler.ToastRaised{Text: "Could not upload a.png"})
	l := List(st)
	assert.Equal(t, "timeout", l.Error)
	assert.Equal(t, "Could not upload a.png", l.Toast)
	assert.Contains(t, RenderList(l, 60), "could not load conversations")
}

func TestDetail(t *testing.T) {
	readAt := at(20)
	st := buildState(
		reconciler.MessageReceived{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", RecipientID: "me", Content: "hi", CreatedAt: at(1),
			Reactions: []domain.Reaction{{Emoji: "👍", UserID: "u1"}, {Emoji: "👍", UserID: "me"}, {Emoji: "🎉", UserID: "u1"}}}},
		reconciler.MessageReceived{Message: domain.Message{ID: "m2", ConversationID: "c1", SenderID: "me", RecipientID: "u1", Content: "hey", CreatedAt: at(2), ReadAt: &readAt}},
		reconciler.MessageReceived{Message: domain.Message{ID: "m3", ConversationID: "c1", SenderID: "u1", RecipientID: "me", Content: "secret", CreatedAt: at(3)}},
		reconciler.MessageDeleted{ConversationID: "c1", MessageID: "m3"},
		reconciler.MessageAppended{Optimistic: true, Message: domain.Message{ClientID: "tmp-1", ConversationID: "c1", SenderID: "me", RecipientID: "u1", Content: "pending", CreatedAt: at(4)}},
		reconciler.MessageFailed{TempID: "tmp-1", Reason: "offline"},
	)

	_, ok := Detail(st, "nope")
	assert.False(t, ok)

	d, ok := Detail(st, "c1")
	require.True(t, ok)
	assert.Equal(t, "Ana", d.PartnerName)
	require.Len(t, d.Messages, 4)

	first := d.Messages[0]
	assert.False(t, first.Mine)
	assert.Equal(t, []ReactionCount{{Emoji: "👍", Count: 2, Mine: true}, {Emoji: "🎉", Count: 1}}, first.Reactions)

	assert.True(t, d.Messages[1].Mine)
	assert.True(t, d.Messages[1].Read)
	assert.Equal(t, domain.StatusSent, d.Messages[1].Status)

	assert.True(t, d.Messages[2].Deleted)
	assert.Equal(t, deletedText, d.Messages[2].Content)

	assert.Equal(t, "tmp-1", d.Messages[3].Key)
	assert.Equal(t, domain.StatusFailed, d.Messages[3].Status)
	assert.Equal(t, "offline", d.Messages[3].Failure)

	out := RenderDetail(d, 80)
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "not sent: offline")
}

func TestRenderKeepsRowsInsidePanel(t *testing.T) {
	st := buildState(
		reconciler.MessageReceived{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", RecipientID: "me",
			Content: "a rather long message that has to be cut short", CreatedAt: at(1)}},
		reconciler.MessageAppended{Optimistic: true, Message: domain.Message{ClientID: "tmp-1", ConversationID: "c1", SenderID: "me", RecipientID: "u1", Content: "pending", CreatedAt: at(4)}},
		reconciler.MessageFailed{TempID: "tmp-1", Reason: "offline"},
	)
	d, ok := Detail(st, "c1")
	require.True(t, ok)

	for _, width := range []int{24, 40, 80} {
		out := RenderDetail(d, width)
		assert.Contains(t, out, "not sent: offline", "width %d", width)
		for _, line := range strings.Split(out, "\n") {
			assert.LessOrEqual(t, lipgloss.Width(line), max(20, width-4)+2, "width %d: %q", width, line)
		}

		list := RenderList(List(st), width)
		for _, line := range strings.Split(list, "\n") {
			assert.LessOrEqual(t, lipgloss.Width(line), max(20, width-4)+2, "width %d: %q", width, line)
		}
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "hel…", truncate("hello", 4))
	assert.Equal(t, "", truncate("hello", 0))
}
