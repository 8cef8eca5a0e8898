package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

const DefaultDecay = 5 * time.Second

// Dispatcher applies actions to the chat state.
type Dispatcher interface {
	Dispatch(a reconciler.Action) *reconciler.State
}

type typingTimer struct {
	timer scheduler.Timer
	seq   uint64
}

// Tracker keeps the online set and the decaying typing indicators.
type Tracker struct {
	dispatcher Dispatcher
	clock      scheduler.Scheduler
	decay      time.Duration
	logger     zerolog.Logger

	timersMu sync.Mutex
	timers   map[string]typingTimer // user id -> decay countdown
	seq      uint64
}

func NewTracker(d Dispatcher, clock scheduler.Scheduler, decay time.Duration, logger zerolog.Logger) *Tracker {
	if decay <= 0 {
		decay = DefaultDecay
	}
	if clock == nil {
		clock = scheduler.New()
	}
	return &Tracker{
		dispatcher: d,
		clock:      clock,
		decay:      decay,
		logger:     logger,
		timers:     make(map[string]typingTimer),
	}
}

// ReplaceOnline replaces the whole online set.
func (t *Tracker) ReplaceOnline(userIDs []string) {
	t.dispatcher.Dispatch(reconciler.PresenceReplaced{UserIDs: userIDs})
}

// SetOnline records a single presence change. Going offline also ends typing.
func (t *Tracker) SetOnline(userID string, online bool) {
	if online {
		t.dispatcher.Dispatch(reconciler.UserOnline{UserID: userID})
		return
	}
	t.StopTyping(userID)
	t.dispatcher.Dispatch(reconciler.UserOffline{UserID: userID})
}

// Typing shows the indicator for userID and restarts its countdown.
func (t *Tracker) Typing(userID string) {
	if userID == "" {
		return
	}

	t.timersMu.Lock()
	if existing, ok := t.timers[userID]; ok {
		existing.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timers[userID] = typingTimer{
		seq: seq,
		timer: t.clock.AfterFunc(t.decay, func() {
			t.expire(userID, seq)
		}),
	}
	t.timersMu.Unlock()

	t.dispatcher.Dispatch(reconciler.TypingStarted{UserID: userID})
}

func (t *Tracker) expire(userID string, seq uint64) {
	t.timersMu.Lock()
	current, ok := t.timers[userID]
	if !ok || current.seq != seq {
		t.timersMu.Unlock()
		return
	}
	delete(t.timers, userID)
	t.timersMu.Unlock()

	t.logger.Debug().Str(pkglog.FieldUserID, userID).Msg("typing indicator expired")
	t.dispatcher.Dispatch(reconciler.TypingExpired{UserID: userID})
}

// StopTyping clears the indicator for userID, e.g. when their message arrives.
func (t *Tracker) StopTyping(userID string) {
	t.timersMu.Lock()
	existing, ok := t.timers[userID]
	if ok {
		existing.timer.Stop()
		delete(t.timers, userID)
	}
	t.timersMu.Unlock()

	if ok {
		t.dispatcher.Dispatch(reconciler.TypingExpired{UserID: userID})
	}
}

// Reset cancels every countdown. The state side is cleared by the
// connection change that triggers it.
func (t *Tracker) Reset() {
	t.timersMu.Lock()
	defer t.timersMu.Unlock()
	for userID, tt := range t.timers {
		tt.timer.Stop()
		delete(t.timers, userID)
	}
}

// Stop cancels every countdown for shutdown.
func (t *Tracker) Stop() { t.Reset() }

// Active reports how many typing countdowns are running.
func (t *Tracker) Active() int {
	t.timersMu.Lock()
	defer t.timersMu.Unlock()
	return len(t.timers)
}
