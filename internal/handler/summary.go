package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lokapos/terminal/internal/database"
)

// Summarizer defines the service methods needed by summary endpoints.
// Satisfied by *service.SummaryService.
type Summarizer interface {
	Recompute(ctx context.Context, storeID uuid.UUID, day time.Time) (database.DailySummary, error)
}

// SummaryHandler serves the store-day aggregates.
type SummaryHandler struct {
	svc Summarizer
}

// NewSummaryHandler creates a new SummaryHandler.
func NewSummaryHandler(svc Summarizer) *SummaryHandler {
	return &SummaryHandler{svc: svc}
}

// RegisterRoutes registers summary endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/summary
func (h *SummaryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/today", h.Today)
}

type summaryResponse struct {
	StoreID        uuid.UUID `json:"store_id"`
	Day            string    `json:"day"`
	OrderCount     int64     `json:"order_count"`
	ServedCount    int64     `json:"served_count"`
	CancelledCount int64     `json:"cancelled_count"`
	SyncedCount    int64     `json:"synced_count"`
	GrossSales     string    `json:"gross_sales"`
	TaxTotal       string    `json:"tax_total"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Today handles GET /stores/{sid}/summary/today. The summary is recomputed
// from the orders table on every request, so the figures never lag the sync
// worker's five-minute cadence.
func (h *SummaryHandler) Today(w http.ResponseWriter, r *http.Request) {
	storeID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid store ID"})
		return
	}

	summary, err := h.svc.Recompute(r.Context(), storeID, time.Now())
	if err != nil {
		log.Printf("ERROR: summary today: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		StoreID:        summary.StoreID,
		Day:            summary.Day.Time.Format("2006-01-02"),
		OrderCount:     summary.OrderCount,
		ServedCount:    summary.ServedCount,
		CancelledCount: summary.CancelledCount,
		SyncedCount:    summary.SyncedCount,
		GrossSales:     numericToString(summary.GrossSales),
		TaxTotal:       numericToString(summary.TaxTotal),
		UpdatedAt:      summary.UpdatedAt,
	})
}
