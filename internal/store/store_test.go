package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

type fakeAPI struct {
	mu      sync.Mutex
	snaps   []domain.ConversationSnapshot
	snapErr error
	pages   map[string]*domain.MessagePage
	gates   map[string]chan struct{}
	fetches []string
	reads   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: map[string]*domain.MessagePage{}, gates: map[string]chan struct{}{}}
}

func (f *fakeAPI) FetchConversations(ctx context.Context) ([]domain.ConversationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps, f.snapErr
}

func (f *fakeAPI) FetchMessages(ctx context.Context, id, cursor string, limit int) (*domain.MessagePage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, id+"|"+cursor)
	gate := f.gates[id]
	page := f.pages[id+"|"+cursor]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page == nil {
		return nil, errors.New("no such page")
	}
	return page, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, id)
	return nil
}

type sent struct {
	event   string
	payload interface{}
}

type fakeSender struct {
	mu     sync.Mutex
	events []sent
}

func (f *fakeSender) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sent{event, payload})
	return nil
}

func incoming(id, from string, sec int) domain.Message {
	return domain.Message{ID: id, SenderID: from, RecipientID: "me", Content: id, CreatedAt: at(sec)}
}

func snapshot(id, partner string, last *domain.Message) domain.ConversationSnapshot {
	unread := last != nil && last.SenderID != "me"
	return domain.ConversationSnapshot{
		ID:          id,
		OtherUser:   domain.Participant{ID: partner, DisplayName: partner},
		LastMessage: last,
		HasUnread:   &unread,
	}
}

func newTestStore(t *testing.T, api *fakeAPI) (*Store, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	s := New(Config{}, api, sender, scheduler.NewManual(at(100)), zerolog.Nop(), metrics.New())
	s.Init("me")
	t.Cleanup(s.Teardown)
	return s, sender
}

func TestRefreshLoadsSnapshot(t *testing.T) {
	api := newFakeAPI()
	last := incoming("m1", "u1", 1)
	api.snaps = []domain.ConversationSnapshot{snapshot("c1", "u1", &last)}
	s, _ := newTestStore(t, api)

	require.NoError(t, s.Refresh(context.Background()))
	c, ok := s.State().Conversation("c1")
	require.True(t, ok)
	assert.True(t, c.HasUnread)
	assert.Equal(t, "u1", c.Partner.ID)
	assert.Empty(t, s.State().ListError)
}

func TestRefreshFailureSetsListError(t *testing.T) {
	api := newFakeAPI()
	api.snapErr = errors.New("boom")
	s, _ := newTestStore(t, api)

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, "boom", s.State().ListError)
}

func TestRefreshBeforeInit(t *testing.T) {
	s := New(Config{}, newFakeAPI(), &fakeSender{}, nil, zerolog.Nop(), nil)
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrNotInitialized)
}

func TestSelectFetchesHistoryOnce(t *testing.T) {
	api := newFakeAPI()
	api.pages["c1|"] = &domain.MessagePage{
		Messages:   []domain.Message{incoming("m1", "u1", 1), incoming("m2", "u1", 2)},
		NextCursor: "p2",
		HasMore:    true,
	}
	api.pages["c1|p2"] = &domain.MessagePage{Messages: []domain.Message{incoming("m0", "u1", 0)}}
	s, _ := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", nil)})

	require.NoError(t, s.SelectConversation(context.Background(), "c1"))
	s.Wait()
	require.NoError(t, s.SelectConversation(context.Background(), "c1"))
	s.Wait()

	c, _ := s.State().Conversation("c1")
	assert.True(t, c.MessagesFetched)
	assert.True(t, c.HasMoreMessages)
	assert.Len(t, c.Messages, 2)

	require.NoError(t, s.LoadOlderMessages(context.Background(), "c1"))
	s.Wait()
	c, _ = s.State().Conversation("c1")
	assert.Equal(t, []string{"m0", "m1", "m2"}, []string{c.Messages[0].ID, c.Messages[1].ID, c.Messages[2].ID})
	assert.False(t, c.HasMoreMessages)

	require.NoError(t, s.LoadOlderMessages(context.Background(), "c1"))
	s.Wait()
	assert.Equal(t, []string{"c1|", "c1|p2"}, api.fetches)
}

func TestSelectUnknownConversation(t *testing.T) {
	s, _ := newTestStore(t, newFakeAPI())
	assert.ErrorIs(t, s.SelectConversation(context.Background(), "nope"), ErrConversationNotFound)
	assert.ErrorIs(t, s.LoadOlderMessages(context.Background(), "nope"), ErrConversationNotFound)
	assert.ErrorIs(t, s.MarkConversationRead(context.Background(), "nope"), ErrConversationNotFound)
}

func TestStaleHistoryDiscardedAfterReselect(t *testing.T) {
	api := newFakeAPI()
	api.gates["c1"] = make(chan struct{})
	api.pages["c1|"] = &domain.MessagePage{Messages: []domain.Message{incoming("a1", "u1", 1)}}
	api.pages["c2|"] = &domain.MessagePage{Messages: []domain.Message{incoming("b1", "u2", 1)}}
	s, _ := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", nil), snapshot("c2", "u2", nil)})

	require.NoError(t, s.SelectConversation(context.Background(), "c1"))
	require.NoError(t, s.SelectConversation(context.Background(), "c2"))
	close(api.gates["c1"])
	s.Wait()

	st := s.State()
	assert.Equal(t, "c2", st.ActiveID)
	a, _ := st.Conversation("c1")
	assert.Empty(t, a.Messages)
	assert.False(t, a.MessagesFetched)
	assert.False(t, a.Loading)
	b, _ := st.Conversation("c2")
	require.Len(t, b.Messages, 1)
	assert.Equal(t, "b1", b.Messages[0].ID)
}

func TestHistoryFailureVisible(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", nil)})

	require.NoError(t, s.SelectConversation(context.Background(), "c1"))
	s.Wait()
	c, _ := s.State().Conversation("c1")
	assert.Equal(t, "no such page", c.HistoryError)
	assert.False(t, c.Loading)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	last := incoming("m1", "u1", 1)
	s, sender := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", &last)})

	require.NoError(t, s.MarkConversationRead(context.Background(), "c1"))
	require.NoError(t, s.MarkConversationRead(context.Background(), "c1"))
	s.Wait()

	c, _ := s.State().Conversation("c1")
	assert.False(t, c.HasUnread)
	require.NotNil(t, c.LastMessage.ReadAt)
	assert.Equal(t, at(100), *c.LastMessage.ReadAt)

	require.Len(t, sender.events, 1)
	assert.Equal(t, domain.EventMarkAsRead, sender.events[0].event)
	assert.Equal(t, domain.MarkAsReadPayload{SenderID: "u1", ConversationID: "c1"}, sender.events[0].payload)
	assert.Equal(t, []string{"c1"}, api.reads)
}

func TestConcurrentMarkReadEmitsOnce(t *testing.T) {
	api := newFakeAPI()
	last := incoming("m1", "u1", 1)
	s, sender := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", &last)})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.MarkConversationRead(context.Background(), "c1"))
		}()
	}
	close(start)
	wg.Wait()
	s.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Len(t, sender.events, 1)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"c1"}, api.reads)
}

func TestMarkReadPlaceholderSkipsREST(t *testing.T) {
	api := newFakeAPI()
	s, sender := newTestStore(t, api)
	s.Dispatch(reconciler.MessageReceived{Message: incoming("m1", "u9", 1)})

	require.NoError(t, s.MarkConversationRead(context.Background(), "u9"))
	s.Wait()
	require.Len(t, sender.events, 1)
	assert.Equal(t, domain.MarkAsReadPayload{SenderID: "u9"}, sender.events[0].payload)
	assert.Empty(t, api.reads)
}

func TestOptimisticThenEchoYieldsOneMessage(t *testing.T) {
	s, _ := newTestStore(t, newFakeAPI())
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", nil)})

	s.AppendMessage(domain.Message{ClientID: "tmp1", SenderID: "me", RecipientID: "u1", Content: "hi", CreatedAt: at(5)}, true)
	assert.True(t, s.State().IsPending("tmp1"))

	s.ReconcileMessage("tmp1", domain.Message{ID: "m9", ClientID: "tmp1", SenderID: "me", RecipientID: "u1", Content: "hi", CreatedAt: at(6)})
	s.Dispatch(reconciler.MessageReceived{Message: domain.Message{ID: "m9", ClientID: "tmp1", SenderID: "me", RecipientID: "u1", Content: "hi", CreatedAt: at(6)}})

	c, _ := s.State().Conversation("c1")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "m9", c.Messages[0].ID)
	assert.Equal(t, domain.StatusSent, c.Messages[0].Status)
	assert.False(t, s.State().IsPending("tmp1"))
}

func TestSubscribeReceivesOrderedStates(t *testing.T) {
	s, _ := newTestStore(t, newFakeAPI())

	var versions []uint64
	unsubscribe := s.Subscribe(func(st *reconciler.State) { versions = append(versions, st.Version) })
	s.Dispatch(reconciler.UserOnline{UserID: "u1"})
	s.Dispatch(reconciler.UserOnline{UserID: "u2"})
	unsubscribe()
	s.Dispatch(reconciler.UserOnline{UserID: "u3"})

	require.Len(t, versions, 2)
	assert.Less(t, versions[0], versions[1])
	assert.True(t, s.State().IsOnline("u3"))
}

func TestTeardownDiscardsInflight(t *testing.T) {
	api := newFakeAPI()
	api.gates["c1"] = make(chan struct{})
	api.pages["c1|"] = &domain.MessagePage{Messages: []domain.Message{incoming("a1", "u1", 1)}}
	s, _ := newTestStore(t, api)
	s.LoadSnapshot([]domain.ConversationSnapshot{snapshot("c1", "u1", nil)})
	require.NoError(t, s.SelectConversation(context.Background(), "c1"))

	s.Teardown()
	st := s.State()
	assert.Empty(t, st.Conversations)
	assert.Empty(t, st.SelfID)

	s.Init("me")
	assert.Equal(t, "me", s.State().SelfID)
	assert.Empty(t, s.State().Conversations)
}
