package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lokapos/terminal/internal/database"
)

// SummaryStore defines the DB methods needed to recompute daily summaries.
type SummaryStore interface {
	GetDailySummarySource(ctx context.Context, arg database.GetDailySummarySourceParams) (database.GetDailySummarySourceRow, error)
	UpsertDailySummary(ctx context.Context, arg database.UpsertDailySummaryParams) (database.DailySummary, error)
	GetDailySummary(ctx context.Context, arg database.GetDailySummaryParams) (database.DailySummary, error)
}

// SummaryService recomputes store-day aggregates. The recompute is a full
// replacement of the row, never additive, so it can run any number of times.
type SummaryService struct {
	store SummaryStore
}

func NewSummaryService(store SummaryStore) *SummaryService {
	return &SummaryService{store: store}
}

// Recompute rebuilds the summary row for a store-day from the orders table.
func (s *SummaryService) Recompute(ctx context.Context, storeID uuid.UUID, day time.Time) (database.DailySummary, error) {
	d := pgtype.Date{Time: day, Valid: true}
	src, err := s.store.GetDailySummarySource(ctx, database.GetDailySummarySourceParams{
		StoreID: storeID,
		Day:     d,
	})
	if err != nil {
		return database.DailySummary{}, fmt.Errorf("summary source: %w", err)
	}

	summary, err := s.store.UpsertDailySummary(ctx, database.UpsertDailySummaryParams{
		StoreID:        storeID,
		Day:            d,
		OrderCount:     src.OrderCount,
		ServedCount:    src.ServedCount,
		CancelledCount: src.CancelledCount,
		SyncedCount:    src.SyncedCount,
		GrossSales:     src.GrossSales,
		TaxTotal:       src.TaxTotal,
	})
	if err != nil {
		return database.DailySummary{}, fmt.Errorf("upsert summary: %w", err)
	}
	return summary, nil
}
