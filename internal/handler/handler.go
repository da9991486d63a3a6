package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/emailgif"
	"urgency-timer-api/internal/models"
	"urgency-timer-api/internal/service"
	"urgency-timer-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	gifs        *emailgif.Renderer
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	GIFRenderer *emailgif.Renderer
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
	return &Handler{
		service:     svc,
		gifs:        opts.GIFRenderer,
		maxBodySize: opts.MaxBodySize,
	}
}

// ResolveTimers handles GET /public/timers
func (h *Handler) ResolveTimers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	shop := validation.SanitizeString(q.Get("shop"))
	if shop == "" {
		h.respondError(w, http.StatusBadRequest, "shop is required")
		return
	}

	pageURL := q.Get("url")
	if pageURL == "" {
		pageURL = q.Get("pageUrl")
	}

	vctx := models.VisitorContext{
		Shop:          shop,
		Type:          models.Placement(validation.SanitizeString(q.Get("type"))),
		PageType:      strings.ToLower(validation.SanitizeString(q.Get("pageType"))),
		PageURL:       validation.SanitizeString(pageURL),
		ProductID:     validation.SanitizeString(q.Get("productId")),
		CollectionIDs: validation.ParseList(q.Get("collectionIds")),
		ProductTags:   validation.ParseList(q.Get("productTags")),
		Country:       strings.ToUpper(validation.SanitizeString(q.Get("country"))),
	}

	response, err := h.service.ResolveTimers(r.Context(), vctx)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// RecordView handles POST /public/views
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var ev models.ViewEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	ev.Shop = validation.SanitizeString(ev.Shop)
	ev.TimerID = validation.SanitizeString(ev.TimerID)
	ev.PageType = validation.SanitizeString(ev.PageType)
	ev.PageURL = validation.SanitizeString(ev.PageURL)

	if err := h.service.RecordView(r.Context(), ev); err != nil {
		h.respondServiceError(w, err)
		return
	}

	// Beacons are fire-and-forget on the storefront side; acknowledge
	// acceptance, not persistence.
	w.WriteHeader(http.StatusAccepted)
}

// EmailGIF handles GET /public/timers/{timer_id}/email.gif
func (h *Handler) EmailGIF(w http.ResponseWriter, r *http.Request) {
	if h.gifs == nil {
		h.respondError(w, http.StatusNotFound, "email rendering is not enabled")
		return
	}

	id := validation.SanitizeString(chi.URLParam(r, "timer_id"))
	if err := validation.ValidateUUID(id, "timer_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid timer id")
		return
	}

	view, now, err := h.service.EmailTimerView(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	img, err := h.gifs.Render(view, now)
	if err != nil {
		log.Error().Err(err).Str("timer", id).Msg("gif render failed")
		h.respondError(w, http.StatusInternalServerError, "failed to render timer")
		return
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// CreateTimer handles POST /timers
func (h *Handler) CreateTimer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.Timer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	sanitizeTimer(&req)

	created, err := h.service.CreateTimer(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, created)
}

// UpdateTimer handles PUT /timers/{timer_id}
func (h *Handler) UpdateTimer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	id := validation.SanitizeString(chi.URLParam(r, "timer_id"))

	var req models.Timer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.ID = id
	sanitizeTimer(&req)

	updated, err := h.service.UpdateTimer(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, updated)
}

// DeleteTimer handles DELETE /timers/{timer_id}
func (h *Handler) DeleteTimer(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "timer_id"))

	if err := h.service.DeleteTimer(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTimer handles GET /timers/{timer_id}
func (h *Handler) GetTimer(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "timer_id"))

	t, err := h.service.GetTimer(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, t)
}

// ListTimers handles GET /timers?shop=...
func (h *Handler) ListTimers(w http.ResponseWriter, r *http.Request) {
	shop := validation.SanitizeString(r.URL.Query().Get("shop"))
	if shop == "" {
		h.respondError(w, http.StatusBadRequest, "shop is required")
		return
	}

	timers, err := h.service.ListTimers(r.Context(), shop)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if timers == nil {
		timers = []models.Timer{}
	}

	h.respondJSON(w, http.StatusOK, timers)
}

// GetShopUsage handles GET /shops/{shop}/usage
func (h *Handler) GetShopUsage(w http.ResponseWriter, r *http.Request) {
	shop := validation.SanitizeString(chi.URLParam(r, "shop"))

	usage, err := h.service.GetShopUsage(r.Context(), shop)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, usage)
}

func sanitizeTimer(t *models.Timer) {
	t.ID = validation.SanitizeString(t.ID)
	t.Shop = validation.SanitizeString(t.Shop)
	t.Name = validation.SanitizeString(t.Name)
	t.Title = validation.SanitizeString(t.Title)
	t.Subheading = validation.SanitizeString(t.Subheading)
	t.ButtonText = validation.SanitizeString(t.ButtonText)
	t.ButtonLink = validation.SanitizeString(t.ButtonLink)
	for i := range t.Countries {
		t.Countries[i] = strings.ToUpper(validation.SanitizeString(t.Countries[i]))
	}
}

// respondServiceError maps service-layer errors onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		h.respondError(w, http.StatusBadRequest, verr.Error())
		return
	}

	var perr *service.PlanLimitError
	if errors.As(err, &perr) {
		h.respondError(w, http.StatusUnprocessableEntity, perr.Error())
		return
	}

	if errors.Is(err, service.ErrTimerNotFound) {
		h.respondError(w, http.StatusNotFound, "timer not found")
		return
	}

	var serr *database.StoreUnavailableError
	if errors.As(err, &serr) {
		log.Error().Err(err).Msg("store unavailable")
		h.respondError(w, http.StatusInternalServerError, "storage unavailable, try again")
		return
	}

	log.Error().Err(err).Msg("request failed")
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
