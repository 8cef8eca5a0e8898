package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/composer"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/presence"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/store"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/upload"
	pkgjwt "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/jwt"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

type chatService struct {
	store     *store.Store
	transport Transport
	tracker   *presence.Tracker
	composer  *composer.Composer
	tokens    TokenSetter
	clock     scheduler.Scheduler
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	offs    []func()
	bg      sync.WaitGroup
}

func NewChatService(
	st *store.Store,
	t Transport,
	tracker *presence.Tracker,
	comp *composer.Composer,
	tokens TokenSetter,
	clock scheduler.Scheduler,
	logger zerolog.Logger,
	m *metrics.Metrics,
) ChatService {
	if clock == nil {
		clock = scheduler.New()
	}
	return &chatService{
		store:     st,
		transport: t,
		tracker:   tracker,
		composer:  comp,
		tokens:    tokens,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

func (s *chatService) Start(ctx context.Context, token string) error {
	claims, err := pkgjwt.ParseUnverified(token, s.clock.Now())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	selfID := claims.Identity()
	if s.tokens != nil {
		s.tokens.SetToken(token)
	}
	s.store.Init(selfID)
	s.registerHandlers()
	s.store.Dispatch(reconciler.ConnectionChanged{Status: domain.ConnectionConnecting})

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldUserID, selfID).Msg("chat session starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.transport.Connect(token); err != nil {
			return fmt.Errorf("connect socket: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// A failed list fetch is shown in the state; the socket still runs.
		if err := s.store.Refresh(gctx); err != nil {
			l.Warn().Err(err).Msg("initial conversation list unavailable")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.Stop()
		return err
	}
	return nil
}

func (s *chatService) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	offs := s.offs
	s.offs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	s.transport.Disconnect()
	cancel()
	s.bg.Wait()
	s.tracker.Stop()
	s.store.Teardown()

	s.logger.Info().Msg("chat session stopped")
	return nil
}

func (s *chatService) State() *reconciler.State { return s.store.State() }

func (s *chatService) Subscribe(l store.Listener) func() { return s.store.Subscribe(l) }

func (s *chatService) Select(ctx context.Context, conversationID string) error {
	if err := s.store.SelectConversation(ctx, conversationID); err != nil {
		return err
	}
	if conversationID == "" {
		return nil
	}
	return s.store.MarkConversationRead(ctx, conversationID)
}

func (s *chatService) LoadOlder(ctx context.Context, conversationID string) error {
	return s.store.LoadOlderMessages(ctx, conversationID)
}

func (s *chatService) MarkRead(ctx context.Context, conversationID string) error {
	return s.store.MarkConversationRead(ctx, conversationID)
}

func (s *chatService) SetDraft(text string) { s.composer.SetDraft(text) }

func (s *chatService) Draft() composer.Draft { return s.composer.Draft() }

func (s *chatService) AttachFile(ctx context.Context, f upload.File) (*domain.Attachment, error) {
	return s.composer.AttachFile(ctx, f)
}

func (s *chatService) ClearAttachment() { s.composer.ClearAttachment() }

func (s *chatService) Send(ctx context.Context) (string, error) {
	if !s.isStarted() {
		return "", ErrNotStarted
	}
	return s.composer.Send(ctx)
}

func (s *chatService) Retry(tempID string) error { return s.composer.Retry(tempID) }

func (s *chatService) Discard(tempID string) error { return s.composer.Discard(tempID) }

func (s *chatService) DismissToast() { s.store.Dispatch(reconciler.ToastCleared{}) }

func (s *chatService) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// background runs fn bound to the session; Stop waits for it.
func (s *chatService) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		fn(ctx)
	}()
}
