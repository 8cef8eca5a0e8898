package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
)

type reducerDispatcher struct {
	mu      sync.Mutex
	reducer *reconciler.Reducer
	state   *reconciler.State
}

func newDispatcher() *reducerDispatcher {
	d := &reducerDispatcher{reducer: reconciler.New(reconciler.Config{})}
	d.state = d.reducer.Reduce(nil, reconciler.SessionStarted{SelfID: "me"})
	d.state = d.reducer.Reduce(d.state, reconciler.SnapshotLoaded{Snapshots: []domain.ConversationSnapshot{
		{ID: "c1", OtherUser: domain.Participant{ID: "u1"}},
		{ID: "c2", OtherUser: domain.Participant{ID: "u2"}},
	}})
	return d
}

func (d *reducerDispatcher) Dispatch(a reconciler.Action) *reconciler.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = d.reducer.Reduce(d.state, a)
	return d.state
}

func (d *reducerDispatcher) State() *reconciler.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func setup() (*Tracker, *reducerDispatcher, *scheduler.Manual) {
	d := newDispatcher()
	clock := scheduler.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewTracker(d, clock, 5*time.Second, zerolog.Nop()), d, clock
}

func TestTypingDecays(t *testing.T) {
	tr, d, clock := setup()

	tr.Typing("u1")
	assert.True(t, d.State().IsTyping("c1"))

	clock.Advance(4 * time.Second)
	assert.True(t, d.State().IsTyping("c1"))

	clock.Advance(time.Second)
	assert.False(t, d.State().IsTyping("c1"))
	assert.Zero(t, tr.Active())
}

func TestTypingPingRestartsCountdown(t *testing.T) {
	tr, d, clock := setup()

	tr.Typing("u1")
	clock.Advance(4 * time.Second)
	tr.Typing("u1")
	clock.Advance(4 * time.Second)
	assert.True(t, d.State().IsTyping("c1"), "second ping restarted the countdown")
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.False(t, d.State().IsTyping("c1"))
}

func TestStopTypingOnMessage(t *testing.T) {
	tr, d, clock := setup()

	tr.Typing("u1")
	tr.Typing("u2")
	tr.StopTyping("u1")
	assert.False(t, d.State().IsTyping("c1"))
	assert.True(t, d.State().IsTyping("c2"))
	assert.Equal(t, 1, clock.Pending())

	tr.StopTyping("u1")
	assert.Equal(t, 1, tr.Active())
}

func TestPresence(t *testing.T) {
	tr, d, _ := setup()

	tr.ReplaceOnline([]string{"u1", "u2"})
	tr.SetOnline("u3", true)
	tr.Typing("u2")
	tr.SetOnline("u2", false)

	st := d.State()
	assert.True(t, st.IsOnline("u1"))
	assert.False(t, st.IsOnline("u2"))
	assert.True(t, st.IsOnline("u3"))
	assert.False(t, st.IsTyping("c2"))

	tr.ReplaceOnline([]string{"u9"})
	st = d.State()
	require.Len(t, st.Online, 1)
	assert.True(t, st.IsOnline("u9"))
}

func TestResetCancelsCountdowns(t *testing.T) {
	tr, _, clock := setup()

	tr.Typing("u1")
	tr.Typing("u2")
	tr.Reset()
	assert.Zero(t, tr.Active())
	assert.Zero(t, clock.Pending())
}
