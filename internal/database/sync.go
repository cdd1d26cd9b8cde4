package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListPendingSyncOrders returns every order awaiting upstream propagation,
// oldest first so upstream replays local history in causal order.
func (q *Queries) ListPendingSyncOrders(ctx context.Context, storeID uuid.UUID) ([]Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1 AND sync_status = 'PENDING'
		ORDER BY created_at ASC`
	rows, err := q.db.Query(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

type MarkOrderSyncedParams struct {
	ID        uuid.UUID
	RemoteID  string
	UpdatedAt time.Time
}

// MarkOrderSynced records the upstream acknowledgement, conditional on
// updated_at still matching the snapshot the worker sent. A mutation that
// commits mid-flight bumps updated_at and re-queues the row, so the stale
// acknowledgement matches nothing and the order stays PENDING. Returns the
// number of rows changed.
func (q *Queries) MarkOrderSynced(ctx context.Context, arg MarkOrderSyncedParams) (int64, error) {
	const query = `UPDATE orders SET
		sync_status = 'SYNCED',
		remote_id = $2,
		synced_at = now(),
		updated_at = now()
	WHERE id = $1 AND updated_at = $3`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.RemoteID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkOrderSyncFailed records an exhausted retry budget.
func (q *Queries) MarkOrderSyncFailed(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE orders SET sync_status = 'FAILED', updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

// ResetFailedSyncOrders moves every FAILED order back to PENDING and
// returns how many were reset.
func (q *Queries) ResetFailedSyncOrders(ctx context.Context, storeID uuid.UUID) (int64, error) {
	const query = `UPDATE orders SET sync_status = 'PENDING', updated_at = now()
		WHERE store_id = $1 AND sync_status = 'FAILED'`
	tag, err := q.db.Exec(ctx, query, storeID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ResetSyncStatusParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

// ResetSyncStatus resets a single FAILED order back to PENDING. Returns the
// number of rows changed (0 when the order is not in FAILED).
func (q *Queries) ResetSyncStatus(ctx context.Context, arg ResetSyncStatusParams) (int64, error) {
	const query = `UPDATE orders SET sync_status = 'PENDING', updated_at = now()
		WHERE id = $1 AND store_id = $2 AND sync_status = 'FAILED'`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.StoreID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type CountOrdersBySyncStatusParams struct {
	StoreID    uuid.UUID
	SyncStatus string
}

func (q *Queries) CountOrdersBySyncStatus(ctx context.Context, arg CountOrdersBySyncStatusParams) (int64, error) {
	const query = `SELECT COUNT(*) FROM orders WHERE store_id = $1 AND sync_status = $2`
	var n int64
	err := q.db.QueryRow(ctx, query, arg.StoreID, arg.SyncStatus).Scan(&n)
	return n, err
}
