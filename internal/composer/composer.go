package composer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/upload"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation selected")
	ErrUploadFailed   = errors.New("attachment upload failed")
	ErrSendFailed     = errors.New("message could not be sent")
	ErrUnknownMessage = errors.New("no such pending message")
)

const (
	DefaultTypingInterval = 2 * time.Second
	tempIDPrefix          = "tmp-"
)

// StateStore is the part of the Store the composer writes to.
type StateStore interface {
	State() *reconciler.State
	Dispatch(a reconciler.Action) *reconciler.State
}

// Sender emits socket events.
type Sender interface {
	Send(event string, payload interface{}) error
}

// Draft is the unsent input of the active conversation.
type Draft struct {
	Text       string             `json:"text"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// Composer turns user input into optimistic messages and socket events.
type Composer struct {
	store          StateStore
	sender         Sender
	uploader       upload.Uploader
	clock          scheduler.Scheduler
	logger         zerolog.Logger
	typingInterval time.Duration

	mu       sync.Mutex
	draft    Draft
	entropy  io.Reader
	limiters map[string]*rate.Limiter            // recipient id
	outgoing map[string]domain.SendMessagePayload // temp id
}

func New(store StateStore, sender Sender, uploader upload.Uploader, clock scheduler.Scheduler, typingInterval time.Duration, logger zerolog.Logger) *Composer {
	if typingInterval <= 0 {
		typingInterval = DefaultTypingInterval
	}
	if clock == nil {
		clock = scheduler.New()
	}
	return &Composer{
		store:          store,
		sender:         sender,
		uploader:       uploader,
		clock:          clock,
		logger:         logger,
		typingInterval: typingInterval,
		entropy:        ulid.Monotonic(rand.Reader, 0),
		limiters:       make(map[string]*rate.Limiter),
		outgoing:       make(map[string]domain.SendMessagePayload),
	}
}

// Draft returns the current draft.
func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	if d.Attachment != nil {
		a := *d.Attachment
		d.Attachment = &a
	}
	return d
}

// SetDraft replaces the draft text and, when it is non-blank, lets the
// partner know the user is typing, at most once per interval.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft.Text = text
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	conv, ok := c.store.State().Active()
	if !ok || conv.Partner.ID == "" {
		return
	}
	if !c.allowTyping(conv.Partner.ID) {
		return
	}
	if err := c.sender.Send(domain.EventTyping, domain.TypingPayload{RecipientID: conv.Partner.ID}); err != nil {
		c.logger.Debug().Err(err).Msg("typing ping not sent")
	}
}

func (c *Composer) allowTyping(recipientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[recipientID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.typingInterval), 1)
		c.limiters[recipientID] = l
	}
	return l.AllowN(c.clock.Now(), 1)
}

// AttachFile uploads f and stages it on the draft. On failure the draft text
// is kept, the staged attachment is cleared and a toast is raised.
func (c *Composer) AttachFile(ctx context.Context, f upload.File) (*domain.Attachment, error) {
	att, err := c.uploader.Upload(ctx, f)
	if err != nil {
		c.mu.Lock()
		c.draft.Attachment = nil
		c.mu.Unlock()

		lg := pkglog.Ctx(ctx)
		lg.Warn().Err(err).Str("filename", f.Name).Msg("attachment upload failed")
		c.store.Dispatch(reconciler.ToastRaised{Text: fmt.Sprintf("Could not upload %s", f.Name)})
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	c.mu.Lock()
	c.draft.Attachment = att
	c.mu.Unlock()
	return att, nil
}

// ClearAttachment removes the staged attachment.
func (c *Composer) ClearAttachment() {
	c.mu.Lock()
	c.draft.Attachment = nil
	c.mu.Unlock()
}

// Send appends the draft to the active conversation as an optimistic message
// and emits it. It returns the temporary id of the new entry. When the emit
// fails the entry stays in the conversation marked failed and the error
// wraps ErrSendFailed.
func (c *Composer) Send(ctx context.Context) (string, error) {
	c.mu.Lock()
	st := c.store.State()
	text := strings.TrimSpace(c.draft.Text)
	att := c.draft.Attachment
	if text == "" && att == nil {
		c.mu.Unlock()
		return "", ErrEmptyMessage
	}
	conv, ok := st.Active()
	if !ok {
		c.mu.Unlock()
		return "", ErrNoConversation
	}
	tempID, err := c.newTempID()
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("generate temp id: %w", err)
	}

	payload := domain.SendMessagePayload{
		RecipientID: conv.Partner.ID,
		Content:     text,
		Attachment:  att,
		ClientID:    tempID,
	}
	if conv.ID != conv.Partner.ID {
		payload.ConversationID = conv.ID
	}
	st = c.store.Dispatch(reconciler.MessageAppended{
		Optimistic: true,
		Message: domain.Message{
			ClientID:       tempID,
			ConversationID: conv.ID,
			SenderID:       st.SelfID,
			RecipientID:    conv.Partner.ID,
			Content:        text,
			Attachment:     att,
			CreatedAt:      c.clock.Now(),
		},
	})
	c.prune(st)
	c.outgoing[tempID] = payload
	c.draft = Draft{}
	c.mu.Unlock()

	lg := pkglog.Ctx(ctx)
	lg.Debug().Str(pkglog.FieldClientID, tempID).Str(pkglog.FieldConversationID, conv.ID).Msg("sending message")
	if err := c.emit(tempID, payload); err != nil {
		return tempID, err
	}
	return tempID, nil
}

// Retry re-emits a failed message with its original correlation id.
func (c *Composer) Retry(tempID string) error {
	st := c.store.State()
	m, ok := pendingMessage(st, tempID)
	if !ok {
		return ErrUnknownMessage
	}
	c.mu.Lock()
	payload, ok := c.outgoing[tempID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	if m.Status != domain.StatusFailed {
		return nil
	}

	c.store.Dispatch(reconciler.MessageRetried{TempID: tempID})
	return c.emit(tempID, payload)
}

// Discard drops an unconfirmed message.
func (c *Composer) Discard(tempID string) error {
	if !c.store.State().IsPending(tempID) {
		return ErrUnknownMessage
	}
	c.store.Dispatch(reconciler.MessageDiscarded{TempID: tempID})

	c.mu.Lock()
	delete(c.outgoing, tempID)
	c.mu.Unlock()
	return nil
}

func (c *Composer) emit(tempID string, payload domain.SendMessagePayload) error {
	if err := c.sender.Send(domain.EventSendMessage, payload); err != nil {
		c.logger.Warn().Err(err).Str(pkglog.FieldClientID, tempID).Msg("send_message not emitted")
		c.store.Dispatch(reconciler.MessageFailed{TempID: tempID, Reason: err.Error()})
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// newTempID must be called with mu held.
func (c *Composer) newTempID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(c.clock.Now()), c.entropy)
	if err != nil {
		return "", err
	}
	return tempIDPrefix + id.String(), nil
}

// prune forgets payloads whose entries were confirmed or discarded. Must be
// called with mu held; every id in outgoing has been dispatched by then.
func (c *Composer) prune(st *reconciler.State) {
	for id := range c.outgoing {
		if !st.IsPending(id) {
			delete(c.outgoing, id)
		}
	}
}

func pendingMessage(st *reconciler.State, tempID string) (domain.Message, bool) {
	cid, ok := st.Pending[tempID]
	if !ok {
		return domain.Message{}, false
	}
	conv, ok := st.Conversation(cid)
	if !ok {
		return domain.Message{}, false
	}
	for _, m := range conv.Messages {
		if m.ClientID == tempID && m.ID == "" {
			return m, true
		}
	}
	return domain.Message{}, false
}

// IsTempID reports whether id was generated for an optimistic message.
func IsTempID(id string) bool { return strings.HasPrefix(id, tempIDPrefix) }
