package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/genricoloni/presenced/internal/engine"
	"github.com/genricoloni/presenced/internal/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; a form is a few hundred bytes
const maxBodyBytes = 64 << 10

// Controller is the engine surface the API drives
type Controller interface {
	Status() engine.Status
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Clear(ctx context.Context) error
	ForceRefresh(ctx context.Context) error
	Form() domain.Form
	UpdateForm(ctx context.Context, form domain.Form) error
	SelectSource(ctx context.Context, id domain.SourceID) error
	RefreshSources(ctx context.Context) error
	SaveForm() error
}

// Handler exposes the control endpoints
type Handler struct {
	ctrl   Controller
	logger *zap.Logger
}

// NewHandler returns a Handler driving ctrl
func NewHandler(ctrl Controller, logger *zap.Logger) *Handler {
	return &Handler{ctrl: ctrl, logger: logger}
}

// NewRouter mounts every endpoint. m may be nil, in which case neither
// request metrics nor /metrics are served.
func NewRouter(h *Handler, logger *zap.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestObserver(logger, m))
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Get("/status", h.GetStatus)
	r.Post("/connect", h.Connect)
	r.Post("/disconnect", h.Disconnect)
	r.Post("/clear", h.Clear)
	r.Post("/refresh", h.Refresh)
	r.Get("/form", h.GetForm)
	r.Put("/form", h.PutForm)
	r.Get("/sources", h.GetSources)
	r.Put("/source", h.PutSource)
	r.Post("/config/save", h.SaveConfig)
	return r
}

// formBody is the wire shape of the form. CustomStart is carried here
// because it is not part of the persisted keys.
type formBody struct {
	domain.Form
	CustomStart *time.Time `json:"custom_start,omitempty"`
}

type sourceBody struct {
	Source domain.SourceID `json:"source"`
}

type sourcesBody struct {
	Selected domain.SourceID   `json:"selected,omitempty"`
	Sources  []domain.SourceID `json:"sources"`
}

type errorBody struct {
	Error string `json:"error"`
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Connect handles POST /connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.Connect(r.Context()))
}

// Disconnect handles POST /disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.Disconnect(r.Context()))
}

// Clear handles POST /clear
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.Clear(r.Context()))
}

// Refresh handles POST /refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.ForceRefresh(r.Context()))
}

// GetForm handles GET /form
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	form := h.ctrl.Form()
	body := formBody{Form: form}
	if !form.CustomStart.IsZero() {
		t := form.CustomStart
		body.CustomStart = &t
	}
	h.writeJSON(w, http.StatusOK, body)
}

// PutForm handles PUT /form. The body replaces the whole form.
func (h *Handler) PutForm(w http.ResponseWriter, r *http.Request) {
	var body formBody
	if !h.decode(w, r, &body) {
		return
	}
	form := body.Form
	if body.CustomStart != nil {
		form.CustomStart = *body.CustomStart
	}
	if err := h.ctrl.UpdateForm(r.Context(), form); err != nil {
		h.writeError(w, err)
		return
	}
	h.GetForm(w, r)
}

// GetSources handles GET /sources, re-listing the bus first
func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RefreshSources(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	st := h.ctrl.Status()
	h.writeJSON(w, http.StatusOK, sourcesBody{Selected: st.Source, Sources: st.Sources})
}

// PutSource handles PUT /source. An empty source unbinds.
func (h *Handler) PutSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if !h.decode(w, r, &body) {
		return
	}
	h.respond(w, h.ctrl.SelectSource(r.Context(), body.Source))
}

// SaveConfig handles POST /config/save
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.SaveForm())
}

// respond writes the status on success and the mapped error otherwise
func (h *Handler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.logger.Debug("Invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var (
		connectErr *domain.ConnectError
		publishErr *domain.PublishError
		queryErr   *domain.QueryError
	)
	switch {
	case errors.Is(err, domain.ErrMissingAppID), errors.Is(err, domain.ErrInvalidAppID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownSource):
		return http.StatusNotFound
	case errors.As(err, &connectErr), errors.As(err, &publishErr):
		return http.StatusBadGateway
	case errors.As(err, &queryErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
