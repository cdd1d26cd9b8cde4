package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type GetDailySummarySourceParams struct {
	StoreID uuid.UUID
	Day     pgtype.Date
}

type GetDailySummarySourceRow struct {
	OrderCount     int64
	ServedCount    int64
	CancelledCount int64
	SyncedCount    int64
	GrossSales     pgtype.Numeric
	TaxTotal       pgtype.Numeric
}

// GetDailySummarySource recomputes the store-day figures from the orders
// table. Cancelled orders are excluded from revenue but counted.
func (q *Queries) GetDailySummarySource(ctx context.Context, arg GetDailySummarySourceParams) (GetDailySummarySourceRow, error) {
	const query = `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = 'SERVED'),
		COUNT(*) FILTER (WHERE status = 'CANCELLED'),
		COUNT(*) FILTER (WHERE sync_status = 'SYNCED'),
		COALESCE(SUM(total_amount) FILTER (WHERE status <> 'CANCELLED'), 0),
		COALESCE(SUM(tax_amount) FILTER (WHERE status <> 'CANCELLED'), 0)
	FROM orders WHERE store_id = $1 AND order_day = $2`
	var row GetDailySummarySourceRow
	err := q.db.QueryRow(ctx, query, arg.StoreID, arg.Day).Scan(
		&row.OrderCount, &row.ServedCount, &row.CancelledCount,
		&row.SyncedCount, &row.GrossSales, &row.TaxTotal,
	)
	return row, err
}

type UpsertDailySummaryParams struct {
	StoreID        uuid.UUID
	Day            pgtype.Date
	OrderCount     int64
	ServedCount    int64
	CancelledCount int64
	SyncedCount    int64
	GrossSales     pgtype.Numeric
	TaxTotal       pgtype.Numeric
}

// UpsertDailySummary replaces the store-day row wholesale. The recompute is
// idempotent, not additive, so repeated calls converge on the same row.
func (q *Queries) UpsertDailySummary(ctx context.Context, arg UpsertDailySummaryParams) (DailySummary, error) {
	const query = `INSERT INTO daily_summaries (
		store_id, day, order_count, served_count, cancelled_count,
		synced_count, gross_sales, tax_total, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (store_id, day) DO UPDATE SET
		order_count = EXCLUDED.order_count,
		served_count = EXCLUDED.served_count,
		cancelled_count = EXCLUDED.cancelled_count,
		synced_count = EXCLUDED.synced_count,
		gross_sales = EXCLUDED.gross_sales,
		tax_total = EXCLUDED.tax_total,
		updated_at = now()
	RETURNING store_id, day, order_count, served_count, cancelled_count, synced_count, gross_sales, tax_total, updated_at`
	var s DailySummary
	err := q.db.QueryRow(ctx, query,
		arg.StoreID, arg.Day, arg.OrderCount, arg.ServedCount, arg.CancelledCount,
		arg.SyncedCount, arg.GrossSales, arg.TaxTotal,
	).Scan(
		&s.StoreID, &s.Day, &s.OrderCount, &s.ServedCount, &s.CancelledCount,
		&s.SyncedCount, &s.GrossSales, &s.TaxTotal, &s.UpdatedAt,
	)
	return s, err
}

type GetDailySummaryParams struct {
	StoreID uuid.UUID
	Day     pgtype.Date
}

func (q *Queries) GetDailySummary(ctx context.Context, arg GetDailySummaryParams) (DailySummary, error) {
	const query = `SELECT store_id, day, order_count, served_count, cancelled_count,
		synced_count, gross_sales, tax_total, updated_at
		FROM daily_summaries WHERE store_id = $1 AND day = $2`
	var s DailySummary
	err := q.db.QueryRow(ctx, query, arg.StoreID, arg.Day).Scan(
		&s.StoreID, &s.Day, &s.OrderCount, &s.ServedCount, &s.CancelledCount,
		&s.SyncedCount, &s.GrossSales, &s.TaxTotal, &s.UpdatedAt,
	)
	return s, err
}
