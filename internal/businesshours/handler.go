package businesshours

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokoarang/storefront/internal/platform/httpx"
)

// Handler exposes the gate over JSON endpoints.
type Handler struct {
	logger *slog.Logger
	gate   *Gate
}

// NewHandler constructs the business hours handler.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	return &Handler{logger: logger, gate: gate}
}

// MountRoutes registers business hours routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getSettings)
	r.Put("/", h.updateSettings)
	r.Post("/reset", h.reset)
	r.Get("/status", h.status)
	r.Get("/open", h.open)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.gate.GetBusinessHours(r.Context()))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if err := httpx.DecodeJSON(r, &settings); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	h.writeResult(w, h.gate.UpdateBusinessHours(r.Context(), settings))
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.gate.ResetToDefault(r.Context()))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.parseAsOf(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.gate.CurrentStatus(r.Context(), asOf))
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.parseAsOf(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"is_open": h.gate.IsWithinBusinessHours(r.Context(), asOf)})
}

func (h *Handler) writeResult(w http.ResponseWriter, result UpdateResult) {
	if !result.Success {
		// Saved locally but the remote store is degraded.
		h.logger.Warn("business hours update degraded", slog.String("message", result.Message))
		httpx.JSON(w, http.StatusAccepted, result)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) parseAsOf(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return nil, true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Time", "at must be RFC3339")
		return nil, false
	}
	return &at, true
}
