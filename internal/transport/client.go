package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

var (
	ErrInactive     = errors.New("transport: not activated")
	ErrNotConnected = errors.New("transport: not connected")
	ErrOutboxFull   = errors.New("transport: outbox full")
)

// Handler receives the raw payload of one event. Handlers run on the
// connection's read goroutine, one at a time.
type Handler func(payload json.RawMessage)

type Config struct {
	URL              string
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	Backoff          Backoff
	OutboxSize       int
}

func (c Config) withDefaults() Config {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 256
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Client is a reconnecting websocket client. It stays inert until Connect.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	handlers map[string][]handlerEntry
	nextID   uint64
	active   bool
	token    string
	send     chan frame // non-nil while connected
	outbox   []frame
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewClient(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   logger,
		metrics:  m,
		handlers: make(map[string][]handlerEntry),
	}
}

// On registers fn for event and returns a function that removes it.
func (c *Client) On(event string, fn Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Connect activates the client and starts dialing in the background.
// Dial failures are retried with backoff until Disconnect.
func (c *Client) Connect(token string) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("transport: empty socket url")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.active = true
	c.token = token
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Disconnect stops the client and waits for the connection loop to exit.
// Queued outbox frames are discarded. Must not be called from a Handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.outbox = nil
	c.metrics.SetOutboxDepth(0)
	c.mu.Unlock()

	cancel()
	<-done
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send != nil
}

// Send emits event with payload. While offline, durable events are queued
// and flushed in order on the next connection; others fail with ErrNotConnected.
func (c *Client) Send(event string, payload interface{}) error {
	f, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrInactive
	}
	if c.send != nil {
		select {
		case c.send <- f:
			return nil
		default:
			return ErrOutboxFull
		}
	}
	if !durable(event) {
		return ErrNotConnected
	}
	if len(c.outbox) >= c.cfg.OutboxSize {
		return ErrOutboxFull
	}
	c.outbox = append(c.outbox, f)
	c.metrics.SetOutboxDepth(len(c.outbox))
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	sessions := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.serve(ctx, conn, sessions > 0, attempt)
			sessions++
			attempt = 0
		} else if ctx.Err() == nil {
			c.logger.Warn().Err(err).Int(pkglog.FieldAttempt, attempt).Msg("socket connect failed")
		}
		if ctx.Err() != nil {
			return
		}

		wait := c.cfg.Backoff.Duration(attempt)
		attempt++
		c.metrics.ReconnectAttempt()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// serve runs one connection until it drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, reconnect bool, attempt int) {
	send := make(chan frame, c.cfg.OutboxSize)

	c.mu.Lock()
	pending := c.outbox
	c.outbox = nil
	c.send = send
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.metrics.SetOutboxDepth(0)
	c.logger.Info().Bool("reconnect", reconnect).Int(pkglog.FieldAttempt, attempt).Int("flushed", len(pending)).Msg("socket connected")

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	var unsent []frame
	go func() {
		defer close(writeDone)
		unsent = c.writePump(ctx, conn, pending, send, stop)
	}()

	if err := c.Send(domain.EventGetOnlineUsers, struct{}{}); err != nil {
		c.logger.Warn().Err(err).Msg("request online users")
	}
	c.emitJSON(domain.EventConnect, domain.ConnectPayload{Reconnect: reconnect, Attempt: attempt})

	c.readPump(conn)

	c.mu.Lock()
	c.send = nil
	c.mu.Unlock()

	close(stop)
	<-writeDone
drain:
	for {
		select {
		case f := <-send:
			unsent = append(unsent, f)
		default:
			break drain
		}
	}
	c.requeue(unsent)

	c.metrics.SetConnected(false)
	c.logger.Info().Msg("socket disconnected")
	c.emit(domain.EventDisconnect, nil)
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("socket read error")
			}
			return
		}
		c.dispatch(message)
	}
}

// writePump writes pending first, then live frames, until stopped. It returns
// the frames it could not write.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, pending []frame, send <-chan frame, stop <-chan struct{}) []frame {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for i, f := range pending {
		if err := c.write(conn, f); err != nil {
			c.logger.Warn().Err(err).Msg("socket flush failed")
			return pending[i:]
		}
	}

	for {
		select {
		case f := <-send:
			if err := c.write(conn, f); err != nil {
				c.logger.Warn().Err(err).Str(pkglog.FieldEvent, f.event).Msg("socket write failed")
				return []frame{f}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}

		case <-stop:
			return nil

		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func (c *Client) write(conn *websocket.Conn, f frame) error {
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
		return err
	}
	c.metrics.EventSent(f.event)
	return nil
}

// requeue puts durable frames that never reached the socket back in front
// of the outbox.
func (c *Client) requeue(frames []frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}

	kept := make([]frame, 0, len(frames)+len(c.outbox))
	for _, f := range frames {
		if durable(f.event) {
			kept = append(kept, f)
		}
	}
	kept = append(kept, c.outbox...)
	if over := len(kept) - c.cfg.OutboxSize; over > 0 {
		c.logger.Warn().Int("dropped", over).Msg("outbox overflow")
		for i := 0; i < over; i++ {
			c.metrics.EventDropped("outbox_overflow")
		}
		kept = kept[:c.cfg.OutboxSize]
	}
	c.outbox = kept
	c.metrics.SetOutboxDepth(len(kept))
}

func (c *Client) dispatch(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		c.logger.Warn().Err(err).Int("size", len(message)).Msg("dropping malformed frame")
		c.metrics.EventDropped("malformed")
		return
	}
	c.metrics.EventReceived(env.Type)
	c.emit(env.Type, env.Payload)
}

func (c *Client) emitJSON(event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str(pkglog.FieldEvent, event).Msg("encode local event")
		return
	}
	c.emit(event, raw)
}

func (c *Client) emit(event string, payload json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, e := range entries {
		c.call(event, e.fn, payload)
	}
}

func (c *Client) call(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str(pkglog.FieldEvent, event).Msg("event handler panicked")
		}
	}()
	fn(payload)
}
