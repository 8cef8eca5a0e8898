package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

const DefaultPageSize = 50

type Config struct {
	PageSize    int
	MatchWindow time.Duration
}

// Store owns the chat state. Every mutation goes through Dispatch, which
// applies actions one at a time.
type Store struct {
	api      ConversationAPI
	sender   Sender
	reducer  *reconciler.Reducer
	clock    scheduler.Scheduler
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	pageSize int

	mu        sync.Mutex
	state     *reconciler.State
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[uint64]Listener
	nextID    uint64

	notifyMu  sync.Mutex
	delivered uint64

	flight   singleflight.Group
	inflight sync.WaitGroup
}

func New(cfg Config, api ConversationAPI, sender Sender, clock scheduler.Scheduler, logger zerolog.Logger, m *metrics.Metrics) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if clock == nil {
		clock = scheduler.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Store{
		api:       api,
		sender:    sender,
		reducer:   reconciler.New(reconciler.Config{MatchWindow: cfg.MatchWindow}),
		clock:     clock,
		logger:    logger,
		metrics:   m,
		pageSize:  cfg.PageSize,
		state:     reconciler.NewState(""),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[uint64]Listener),
	}
}

// Init starts a session for selfID, dropping any previous state.
func (s *Store) Init(selfID string) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.gen++
	s.mu.Unlock()

	s.Dispatch(reconciler.SessionStarted{SelfID: selfID})
	s.logger.Info().Str(pkglog.FieldUserID, selfID).Msg("store initialized")
}

// Teardown cancels in-flight fetches and resets the state.
func (s *Store) Teardown() {
	s.mu.Lock()
	s.cancel()
	s.gen++
	s.mu.Unlock()

	s.inflight.Wait()
	s.Dispatch(reconciler.SessionStarted{})
}

// Wait blocks until every in-flight fetch has been applied or discarded.
func (s *Store) Wait() { s.inflight.Wait() }

// State returns the current immutable state.
func (s *Store) State() *reconciler.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers l for every state change and returns the unsubscribe func.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispatch applies a and notifies subscribers.
func (s *Store) Dispatch(a reconciler.Action) *reconciler.State {
	s.mu.Lock()
	next := s.apply(a)
	s.mu.Unlock()

	s.notify(next)
	return next
}

// dispatchIf applies a only while the session that issued it is current.
func (s *Store) dispatchIf(gen uint64, a reconciler.Action) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug().Str("action", reconciler.Name(a)).Msg("discarding result of ended session")
		return false
	}
	next := s.apply(a)
	s.mu.Unlock()

	s.notify(next)
	return true
}

// apply must be called with mu held.
func (s *Store) apply(a reconciler.Action) *reconciler.State {
	s.state = s.reducer.Reduce(s.state, a)
	s.metrics.ActionApplied(reconciler.Name(a))
	s.metrics.SetPending(len(s.state.Pending))
	return s.state
}

func (s *Store) notify(st *reconciler.State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if st.Version <= s.delivered {
		return
	}
	s.delivered = st.Version

	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l(st)
	}
}

func (s *Store) session() (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.gen
}

// LoadSnapshot merges a conversation list.
func (s *Store) LoadSnapshot(snapshots []domain.ConversationSnapshot) {
	s.Dispatch(reconciler.SnapshotLoaded{Snapshots: snapshots})
}

// Refresh fetches the conversation list and merges it. Failure is recorded
// in the state as the list error.
func (s *Store) Refresh(ctx context.Context) error {
	sctx, gen := s.session()
	if sctx.Err() != nil {
		return ErrNotInitialized
	}

	v, err, _ := s.flight.Do("conversations", func() (interface{}, error) {
		started := time.Now()
		snaps, err := s.api.FetchConversations(ctx)
		s.metrics.ObserveREST("fetch_conversations", started, err)
		return snaps, err
	})
	if err != nil {
		s.dispatchIf(gen, reconciler.SnapshotFailed{Err: err.Error()})
		lg := pkglog.Ctx(ctx)
		lg.Warn().Err(err).Msg("conversation list fetch failed")
		return fmt.Errorf("refresh conversations: %w", err)
	}
	s.dispatchIf(gen, reconciler.SnapshotLoaded{Snapshots: v.([]domain.ConversationSnapshot)})
	return nil
}

// SelectConversation makes id the active conversation and fetches its first
// history page in the background when none has been loaded. An empty id
// clears the selection.
func (s *Store) SelectConversation(ctx context.Context, id string) error {
	if id == "" {
		s.Dispatch(reconciler.ConversationSelected{})
		return nil
	}
	if _, ok := s.State().Conversation(id); !ok {
		return fmt.Errorf("select %s: %w", id, ErrConversationNotFound)
	}

	st := s.Dispatch(reconciler.ConversationSelected{ID: id})
	c, ok := st.Conversation(id)
	if !ok || c.MessagesFetched || c.Loading || isPlaceholder(c) {
		return nil
	}
	lg := pkglog.Ctx(ctx)
	lg.Debug().Str(pkglog.FieldConversationID, id).Msg("fetching history")
	s.fetchHistory(id, "")
	return nil
}

// LoadOlderMessages fetches the page before the oldest loaded message.
func (s *Store) LoadOlderMessages(ctx context.Context, id string) error {
	c, ok := s.State().Conversation(id)
	if !ok {
		return fmt.Errorf("load older %s: %w", id, ErrConversationNotFound)
	}
	if c.Loading || !c.MessagesFetched || !c.HasMoreMessages || c.NextCursor == "" {
		return nil
	}
	lg := pkglog.Ctx(ctx)
	lg.Debug().Str(pkglog.FieldConversationID, id).Str("cursor", c.NextCursor).Msg("fetching older history")
	s.fetchHistory(id, c.NextCursor)
	return nil
}

func (s *Store) fetchHistory(id, cursor string) {
	ctx, gen := s.session()
	if !s.dispatchIf(gen, reconciler.HistoryRequested{ConversationID: id}) {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		v, err, _ := s.flight.Do("messages:"+id+":"+cursor, func() (interface{}, error) {
			started := time.Now()
			page, err := s.api.FetchMessages(ctx, id, cursor, s.pageSize)
			s.metrics.ObserveREST("fetch_messages", started, err)
			return page, err
		})
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Str(pkglog.FieldConversationID, id).Msg("history fetch failed")
			}
			s.dispatchIf(gen, reconciler.HistoryFailed{ConversationID: id, Err: err.Error()})
			return
		}
		page := v.(*domain.MessagePage)
		if page == nil {
			page = &domain.MessagePage{}
		}
		s.dispatchIf(gen, reconciler.HistoryLoaded{ConversationID: id, Page: *page})
	}()
}

// MarkConversationRead marks the partner's messages read locally, emits
// mark_as_read and confirms over REST in the background. Nothing is emitted
// when the conversation has no unread messages, so of two concurrent calls
// only one emits.
func (s *Store) MarkConversationRead(ctx context.Context, id string) error {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.state.Conversation(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mark read %s: %w", id, ErrConversationNotFound)
	}
	if !c.HasUnread && c.UnreadCount == 0 {
		s.mu.Unlock()
		return nil
	}
	next := s.apply(reconciler.ConversationRead{ID: id, At: now})
	s.mu.Unlock()
	s.notify(next)

	payload := domain.MarkAsReadPayload{SenderID: c.Partner.ID}
	if !isPlaceholder(c) {
		payload.ConversationID = id
	}
	l := pkglog.Ctx(ctx)
	if err := s.sender.Send(domain.EventMarkAsRead, payload); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldConversationID, id).Msg("mark_as_read not sent")
	}

	if isPlaceholder(c) {
		return nil
	}
	sctx, _ := s.session()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		started := time.Now()
		err := s.api.MarkRead(sctx, id)
		s.metrics.ObserveREST("mark_read", started, err)
		if err != nil && sctx.Err() == nil {
			s.logger.Warn().Err(err).Str(pkglog.FieldConversationID, id).Msg("mark read confirmation failed")
		}
	}()
	return nil
}

// AppendMessage inserts a message. Optimistic messages must carry a ClientID.
func (s *Store) AppendMessage(m domain.Message, optimistic bool) {
	s.Dispatch(reconciler.MessageAppended{Message: m, Optimistic: optimistic})
}

// ReconcileMessage replaces the optimistic entry tempID with the server copy.
func (s *Store) ReconcileMessage(tempID string, m domain.Message) {
	s.Dispatch(reconciler.MessageReconciled{TempID: tempID, Message: m})
}

// A placeholder conversation was created from socket traffic before the
// server id was known; it is keyed by the partner id.
func isPlaceholder(c *domain.Conversation) bool {
	return c.ID == c.Partner.ID
}
