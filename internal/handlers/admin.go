package handlers

import (
	"context"
	"net/http"

	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// WebhookLogReader is the read side of the webhook audit trail.
type WebhookLogReader interface {
	FindByID(ctx context.Context, id uint) (*models.WebhookLog, error)
	CountByStatus(ctx context.Context) (map[models.WebhookStatus]int64, error)
}

// AdminHandler reports on webhook processing and drives the retry sweeper.
type AdminHandler struct {
	logs    WebhookLogReader
	sweeper *services.RetrySweeper
}

func NewAdminHandler(logs WebhookLogReader, sweeper *services.RetrySweeper) *AdminHandler {
	return &AdminHandler{logs: logs, sweeper: sweeper}
}

func (h *AdminHandler) Register(r *mux.Router) {
	r.HandleFunc("/admin/webhooks", h.WebhookStatus()).Methods(http.MethodGet)
	r.HandleFunc("/admin/webhooks/retry", h.ForceRetry()).Methods(http.MethodPost)
	r.HandleFunc("/admin/webhooks/{id:[0-9]+}", h.WebhookLog()).Methods(http.MethodGet)
}

// WebhookStatus returns audit counts by status and the sweeper state.
func (h *AdminHandler) WebhookStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := h.logs.CountByStatus(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		status := map[string]any{"counts": counts}
		if h.sweeper != nil {
			status["sweeper"] = h.sweeper.Status()
		}
		respondData(w, http.StatusOK, status)
	}
}

func (h *AdminHandler) WebhookLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		entry, err := h.logs.FindByID(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, entry)
	}
}

// ForceRetry runs one retry sweep synchronously.
func (h *AdminHandler) ForceRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sweeper == nil {
			respondMessage(w, http.StatusServiceUnavailable, "Retry sweeper not initialized")
			return
		}
		report, err := h.sweeper.Trigger(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		log.Info().
			Int("attempted", report.Attempted).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Msg("Manual webhook retry completed")
		respondData(w, http.StatusOK, report)
	}
}

// Health reports liveness and database reachability.
func Health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			respondMessage(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		respondData(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
