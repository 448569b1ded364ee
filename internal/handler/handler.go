package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"apx-claims-api/internal/models"
	"apx-claims-api/internal/service"
	"apx-claims-api/internal/validation"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service           *service.Service
	maxBodySize       int64
	allowTimeOverride bool
	ledger            Pinger
	now               func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	// AllowTimeOverride accepts the ?now= query parameter.
	AllowTimeOverride bool
	// Ledger is checked by the health endpoint when set.
	Ledger Pinger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:           svc,
		maxBodySize:       opts.MaxBodySize,
		allowTimeOverride: opts.AllowTimeOverride,
		ledger:            opts.Ledger,
		now:               time.Now,
	}
}

// Register mounts the API routes on r. admin wraps the admin routes.
func (h *Handler) Register(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	r.Get("/programs", h.ListPrograms)

	r.Route("/users/{address}", func(r chi.Router) {
		r.Get("/claims", h.GetAvailability)
		r.Get("/claims/{cadence}", h.GetCadenceAvailability)
		r.Post("/claims/{cadence}", h.Claim)
		r.Get("/balance", h.GetBalance)
		r.Get("/history", h.GetHistory)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin)
		r.Put("/programs/{cadence}", h.UpdateProgram)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.ledger.Ping(ctx); err != nil {
			log.WithError(err).Warn("health check: ledger unreachable")
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": "unreachable"})
			return
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPrograms handles GET /programs
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.ListPrograms(r.Context()))
}

// GetAvailability handles GET /users/{address}/claims
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}

	response, err := h.service.GetAvailability(r.Context(), chi.URLParam(r, "address"), now)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// GetCadenceAvailability handles GET /users/{address}/claims/{cadence}
func (h *Handler) GetCadenceAvailability(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}

	response, err := h.service.GetCadenceAvailability(r.Context(),
		chi.URLParam(r, "address"), chi.URLParam(r, "cadence"), now)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// Claim handles POST /users/{address}/claims/{cadence}
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.Claim(r.Context(),
		chi.URLParam(r, "address"), chi.URLParam(r, "cadence"), now)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, receipt)
}

// GetBalance handles GET /users/{address}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// GetHistory handles GET /users/{address}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := validation.ValidateLimit(r.URL.Query().Get("limit"), service.DefaultHistoryLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	response, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "address"), limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// UpdateProgram handles PUT /admin/programs/{cadence}
func (h *Handler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.Program
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	program, err := h.service.UpdateProgram(r.Context(), chi.URLParam(r, "cadence"), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, program)
}

// requestTime is the instant a request is evaluated at: the server clock, or
// the optional 'now' query parameter when overrides are allowed.
func (h *Handler) requestTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	nowParam := validation.SanitizeString(r.URL.Query().Get("now"))
	if nowParam == "" {
		return h.now().UTC(), true
	}

	if !h.allowTimeOverride {
		h.respondError(w, http.StatusBadRequest, "the 'now' parameter is not accepted by this server")
		return time.Time{}, false
	}

	parsed, err := validation.ValidateTimeString(nowParam)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// respondServiceError maps service errors to status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var notAvailable *service.NotAvailableError
	switch {
	case errors.As(err, &notAvailable):
		h.respondJSON(w, http.StatusConflict, models.ErrorResponse{
			Error:           notAvailable.Error(),
			NextAvailableAt: notAvailable.NextAvailableAt,
		})
	case validation.IsValidationError(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownCadence):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrLedgerUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, "ledger unavailable, try again later")
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("unhandled service error")
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
