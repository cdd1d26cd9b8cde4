package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	syncer "github.com/lokapos/terminal/internal/sync"
)

// SyncWorker defines the worker methods needed by sync endpoints.
// Satisfied by *sync.Worker; narrow interface for testability.
type SyncWorker interface {
	TriggerNow()
	RetryAllFailed(ctx context.Context) (int64, error)
	RetryOrder(ctx context.Context, orderID uuid.UUID) error
	Status(ctx context.Context) (syncer.Status, error)
}

// SyncHandler exposes manual control over the sync worker.
type SyncHandler struct {
	worker SyncWorker
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(worker SyncWorker) *SyncHandler {
	return &SyncHandler{worker: worker}
}

// RegisterRoutes registers sync endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/sync
func (h *SyncHandler) RegisterRoutes(r chi.Router) {
	r.Post("/run", h.Run)
	r.Post("/retry-failed", h.RetryFailed)
	r.Post("/orders/{id}/retry", h.RetryOrder)
	r.Get("/status", h.Status)
}

// Run handles POST /stores/{sid}/sync/run. The cycle runs in the
// background; 202 means accepted, not completed.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.worker.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// RetryFailed handles POST /stores/{sid}/sync/retry-failed.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.worker.RetryAllFailed(r.Context())
	if err != nil {
		log.Printf("ERROR: retry failed orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

// RetryOrder handles POST /stores/{sid}/sync/orders/{id}/retry.
func (h *SyncHandler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	if err := h.worker.RetryOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, syncer.ErrNotFailed) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is not in FAILED sync state"})
			return
		}
		log.Printf("ERROR: retry order sync: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued for retry"})
}

// Status handles GET /stores/{sid}/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.worker.Status(r.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusOK, syncer.Status{})
			return
		}
		log.Printf("ERROR: sync status: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}
