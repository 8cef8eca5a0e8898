package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/composer"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/service"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/store"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/upload"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/views"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/response"
)

const multipartMemory = 8 << 20

// HTTPHandler exposes the chat session over a local HTTP API.
type HTTPHandler struct {
	service   service.ChatService
	metrics   http.Handler
	maxUpload int64
}

// NewHTTPHandler creates a new HTTP handler. metrics may be nil.
func NewHTTPHandler(svc service.ChatService, metrics http.Handler, maxUpload int64) *HTTPHandler {
	return &HTTPHandler{
		service:   svc,
		metrics:   metrics,
		maxUpload: maxUpload,
	}
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/select", h.SelectConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/read", h.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/older", h.LoadOlder).Methods(http.MethodPost)

	api.HandleFunc("/draft", h.GetDraft).Methods(http.MethodGet)
	api.HandleFunc("/draft", h.SetDraft).Methods(http.MethodPut)
	api.HandleFunc("/attachments", h.UploadAttachment).Methods(http.MethodPost)
	api.HandleFunc("/attachments", h.ClearAttachment).Methods(http.MethodDelete)

	api.HandleFunc("/messages", h.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{temp_id}/retry", h.RetryMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{temp_id}", h.DiscardMessage).Methods(http.MethodDelete)

	api.HandleFunc("/presence", h.GetPresence).Methods(http.MethodGet)
	api.HandleFunc("/toast", h.DismissToast).Methods(http.MethodDelete)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
}

// ListConversations handles GET /api/v1/conversations
func (h *HTTPHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	response.Success(w, views.List(h.service.State()))
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *HTTPHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok := views.Detail(h.service.State(), id)
	if !ok {
		response.NotFound(w, "conversation not found")
		return
	}
	response.Success(w, d)
}

// SelectConversation handles POST /api/v1/conversations/{id}/select
func (h *HTTPHandler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.Select(r.Context(), id); err != nil {
		h.fail(w, r, err, "select conversation")
		return
	}
	h.detail(w, id)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *HTTPHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.MarkRead(r.Context(), id); err != nil {
		h.fail(w, r, err, "mark conversation read")
		return
	}
	h.detail(w, id)
}

// LoadOlder handles POST /api/v1/conversations/{id}/older
// The page is fetched in the background; the response shows the loading state.
func (h *HTTPHandler) LoadOlder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.LoadOlder(r.Context(), id); err != nil {
		h.fail(w, r, err, "load older messages")
		return
	}
	d, ok := views.Detail(h.service.State(), id)
	if !ok {
		response.NotFound(w, "conversation not found")
		return
	}
	response.Accepted(w, d)
}

type draftRequest struct {
	Text string `json:"text"`
}

// GetDraft handles GET /api/v1/draft
func (h *HTTPHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.service.Draft())
}

// SetDraft handles PUT /api/v1/draft
func (h *HTTPHandler) SetDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	h.service.SetDraft(req.Text)
	response.Success(w, h.service.Draft())
}

// UploadAttachment handles POST /api/v1/attachments (multipart "file")
func (h *HTTPHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		response.BadRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "file is required")
		return
	}
	defer file.Close()

	att, err := h.service.AttachFile(r.Context(), upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	})
	if err != nil {
		h.fail(w, r, err, "upload attachment")
		return
	}
	response.Success(w, att)
}

// ClearAttachment handles DELETE /api/v1/attachments
func (h *HTTPHandler) ClearAttachment(w http.ResponseWriter, r *http.Request) {
	h.service.ClearAttachment()
	response.Success(w, h.service.Draft())
}

type sendRequest struct {
	Text *string `json:"text,omitempty"`
}

// SendResponse reports the temporary id of an optimistic message.
type SendResponse struct {
	TempID string               `json:"temp_id"`
	Status domain.MessageStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

// SendMessage handles POST /api/v1/messages
// An optional text replaces the draft before sending.
func (h *HTTPHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
	}
	if req.Text != nil {
		h.service.SetDraft(*req.Text)
	}

	tempID, err := h.service.Send(r.Context())
	switch {
	case err == nil:
		response.Accepted(w, SendResponse{TempID: tempID, Status: domain.StatusPending})
	case errors.Is(err, composer.ErrSendFailed):
		// The entry is kept as failed and can be retried.
		response.Accepted(w, SendResponse{TempID: tempID, Status: domain.StatusFailed, Error: err.Error()})
	default:
		h.fail(w, r, err, "send message")
	}
}

// RetryMessage handles POST /api/v1/messages/{temp_id}/retry
func (h *HTTPHandler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	tempID := mux.Vars(r)["temp_id"]
	err := h.service.Retry(tempID)
	switch {
	case err == nil:
		response.Accepted(w, SendResponse{TempID: tempID, Status: domain.StatusPending})
	case errors.Is(err, composer.ErrSendFailed):
		response.Accepted(w, SendResponse{TempID: tempID, Status: domain.StatusFailed, Error: err.Error()})
	default:
		h.fail(w, r, err, "retry message")
	}
}

// DiscardMessage handles DELETE /api/v1/messages/{temp_id}
func (h *HTTPHandler) DiscardMessage(w http.ResponseWriter, r *http.Request) {
	tempID := mux.Vars(r)["temp_id"]
	if err := h.service.Discard(tempID); err != nil {
		h.fail(w, r, err, "discard message")
		return
	}
	response.Success(w, map[string]string{"temp_id": tempID})
}

// PresenceResponse lists online users and conversations with a typing partner.
type PresenceResponse struct {
	Online     []string                `json:"online"`
	Typing     []string                `json:"typing"`
	Connection domain.ConnectionStatus `json:"connection"`
}

// GetPresence handles GET /api/v1/presence
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	st := h.service.State()
	resp := PresenceResponse{
		Online:     sortedKeys(st.Online),
		Typing:     sortedKeys(st.Typing),
		Connection: st.Connection,
	}
	response.Success(w, resp)
}

// DismissToast handles DELETE /api/v1/toast
func (h *HTTPHandler) DismissToast(w http.ResponseWriter, r *http.Request) {
	h.service.DismissToast()
	response.Success(w, nil)
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"connection": string(h.service.State().Connection),
	})
}

func (h *HTTPHandler) detail(w http.ResponseWriter, id string) {
	d, ok := views.Detail(h.service.State(), id)
	if !ok {
		response.NotFound(w, "conversation not found")
		return
	}
	response.Success(w, d)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		response.NotFound(w, "conversation not found")
	case errors.Is(err, composer.ErrUnknownMessage):
		response.NotFound(w, "message not found")
	case errors.Is(err, composer.ErrEmptyMessage):
		response.Unprocessable(w, "message is empty")
	case errors.Is(err, composer.ErrNoConversation):
		response.BadRequest(w, "no conversation selected")
	case errors.Is(err, composer.ErrUploadFailed):
		response.Error(w, http.StatusBadGateway, response.CodeUploadFailed, err.Error())
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, store.ErrNotInitialized):
		response.Error(w, http.StatusServiceUnavailable, response.CodeUnavailable, "session not started")
	default:
		l := log.Ctx(r.Context())
		l.Error().Err(err).Msg("failed to " + op)
		response.InternalError(w, "failed to "+op)
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
