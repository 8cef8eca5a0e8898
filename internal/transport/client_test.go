package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
)

const wait = 2 * time.Second

type wsServer struct {
	*httptest.Server
	accept atomic.Bool
	frames chan Envelope
	conns  chan *websocket.Conn
	auth   chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		frames: make(chan Envelope, 64),
		conns:  make(chan *websocket.Conn, 8),
		auth:   make(chan string, 8),
	}
	s.accept.Store(true)
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.accept.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.auth <- r.Header.Get("Authorization")
		s.conns <- conn
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.frames <- env
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(wait):
		t.Fatal("no connection")
		return nil
	}
}

func (s *wsServer) nextFrame(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(wait):
		t.Fatal("no frame")
		return Envelope{}
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(Config{
		URL:     url,
		Backoff: Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2},
	}, zerolog.Nop(), metrics.New())
	t.Cleanup(c.Disconnect)
	return c
}

func collect(c *Client, event string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 16)
	c.On(event, func(p json.RawMessage) { ch <- p })
	return ch
}

func receive(t *testing.T, ch chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(wait):
		t.Fatal("event not delivered")
		return nil
	}
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"}, zerolog.Nop(), nil)
	err := c.Send(domain.EventSendMessage, domain.SendMessagePayload{Content: "hi"})
	assert.ErrorIs(t, err, ErrInactive)
	assert.False(t, c.Connected())
}

func TestConnectRequiresURL(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop(), nil)
	assert.Error(t, c.Connect("tok"))
}

func TestOutboxFlushedInOrderOnConnect(t *testing.T) {
	srv := newWSServer(t)
	srv.accept.Store(false)

	c := newTestClient(t, srv.wsURL())
	connected := collect(c, domain.EventConnect)
	require.NoError(t, c.Connect("tok"))

	require.NoError(t, c.Send(domain.EventSendMessage, domain.SendMessagePayload{ClientID: "a", Content: "first"}))
	require.NoError(t, c.Send(domain.EventMarkAsRead, domain.MarkAsReadPayload{SenderID: "u2"}))
	require.NoError(t, c.Send(domain.EventSendMessage, domain.SendMessagePayload{ClientID: "b", Content: "second"}))
	assert.ErrorIs(t, c.Send(domain.EventTyping, domain.TypingPayload{RecipientID: "u2"}), ErrNotConnected)

	srv.accept.Store(true)

	var cp domain.ConnectPayload
	require.NoError(t, json.Unmarshal(receive(t, connected), &cp))
	assert.False(t, cp.Reconnect)
	assert.Equal(t, "Bearer tok", <-srv.auth)

	got := []string{}
	for i := 0; i < 4; i++ {
		env := srv.nextFrame(t)
		switch env.Type {
		case domain.EventSendMessage:
			var p domain.SendMessagePayload
			require.NoError(t, json.Unmarshal(env.Payload, &p))
			got = append(got, p.ClientID)
		default:
			got = append(got, env.Type)
		}
	}
	assert.Equal(t, []string{"a", domain.EventMarkAsRead, "b", domain.EventGetOnlineUsers}, got)
	assert.True(t, c.Connected())
}

func TestOutboxBounded(t *testing.T) {
	srv := newWSServer(t)
	srv.accept.Store(false)

	c := NewClient(Config{URL: srv.wsURL(), OutboxSize: 1}, zerolog.Nop(), nil)
	t.Cleanup(c.Disconnect)
	require.NoError(t, c.Connect(""))

	require.NoError(t, c.Send(domain.EventSendMessage, domain.SendMessagePayload{ClientID: "a"}))
	assert.ErrorIs(t, c.Send(domain.EventSendMessage, domain.SendMessagePayload{ClientID: "b"}), ErrOutboxFull)
}

func TestInboundDispatch(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.wsURL())
	messages := collect(c, domain.EventNewMessage)
	c.On("boom", func(json.RawMessage) { panic("handler bug") })
	require.NoError(t, c.Connect("tok"))

	conn := srv.nextConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"boom"}`)))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    domain.EventNewMessage,
		"payload": map[string]string{"id": "m1", "content": "hello"},
	}))

	var m domain.Message
	require.NoError(t, json.Unmarshal(receive(t, messages), &m))
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "hello", m.Content)
	assert.Empty(t, messages)
}

func TestOffRemovesHandler(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.wsURL())

	var calls atomic.Int32
	off := c.On(domain.EventTyping, func(json.RawMessage) { calls.Add(1) })
	marker := collect(c, domain.EventUserOnline)
	off()
	off()

	require.NoError(t, c.Connect("tok"))
	conn := srv.nextConn(t)
	require.NoError(t, conn.WriteJSON(Envelope{Type: domain.EventTyping, Payload: json.RawMessage(`{"user_id":"u2"}`)}))
	require.NoError(t, conn.WriteJSON(Envelope{Type: domain.EventUserOnline, Payload: json.RawMessage(`{"user_id":"u2"}`)}))

	receive(t, marker)
	assert.Zero(t, calls.Load())
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.wsURL())
	connected := collect(c, domain.EventConnect)
	disconnected := collect(c, domain.EventDisconnect)
	require.NoError(t, c.Connect("tok"))

	first := srv.nextConn(t)
	var cp domain.ConnectPayload
	require.NoError(t, json.Unmarshal(receive(t, connected), &cp))
	assert.False(t, cp.Reconnect)

	first.Close()
	receive(t, disconnected)

	srv.nextConn(t)
	require.NoError(t, json.Unmarshal(receive(t, connected), &cp))
	assert.True(t, cp.Reconnect)
	assert.Equal(t, 1, cp.Attempt, "one backoff wait before the redial")
}

func TestDisconnectStopsClient(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.wsURL())
	disconnected := collect(c, domain.EventDisconnect)
	require.NoError(t, c.Connect("tok"))
	srv.nextConn(t)

	require.Eventually(t, c.Connected, wait, 5*time.Millisecond)
	c.Disconnect()
	receive(t, disconnected)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Send(domain.EventMarkAsRead, domain.MarkAsReadPayload{}), ErrInactive)
}

func TestBackoffSchedule(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, b.Duration(0))
	assert.Equal(t, 200*time.Millisecond, b.Duration(1))
	assert.Equal(t, 800*time.Millisecond, b.Duration(3))
	assert.Equal(t, time.Second, b.Duration(4))
	assert.Equal(t, time.Second, b.Duration(5000))

	var zero Backoff
	assert.Equal(t, time.Second, zero.Duration(0))
	assert.Equal(t, 30*time.Second, zero.Duration(10))
}
