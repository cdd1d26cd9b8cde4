// Package sync contains the offline-first synchronization engine: a
// periodic worker that drains locally-pending orders to the cloud endpoint
// with bounded retry, gated by a connectivity probe.
package sync

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/scheduler"
	"github.com/shopspring/decimal"
)

// ErrNotFailed is returned when a single-order retry targets an order that
// is not in the FAILED sync state.
var ErrNotFailed = errors.New("order sync status is not FAILED")

// Store defines the DB methods the worker needs. Satisfied by
// *database.Queries. The worker only ever touches sync bookkeeping fields.
type Store interface {
	ListPendingSyncOrders(ctx context.Context, storeID uuid.UUID) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	MarkOrderSynced(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error)
	MarkOrderSyncFailed(ctx context.Context, id uuid.UUID) error
	ResetFailedSyncOrders(ctx context.Context, storeID uuid.UUID) (int64, error)
	ResetSyncStatus(ctx context.Context, arg database.ResetSyncStatusParams) (int64, error)
	CountOrdersBySyncStatus(ctx context.Context, arg database.CountOrdersBySyncStatusParams) (int64, error)
}

// Uplink submits one order snapshot upstream. Satisfied by *CloudClient.
type Uplink interface {
	Submit(ctx context.Context, req SyncRequest) (string, error)
}

// Prober gates each cycle on upstream reachability. Satisfied by
// *HealthProber.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// SummaryRefresher recomputes the store-day aggregates after a batch with at
// least one success. Satisfied by *service.SummaryService.
type SummaryRefresher interface {
	Recompute(ctx context.Context, storeID uuid.UUID, day time.Time) (database.DailySummary, error)
}

// Config tunes the worker.
type Config struct {
	StoreID  uuid.UUID
	Interval time.Duration
	Warmup   time.Duration
	OrderGap time.Duration
	Policy   Policy
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Skipped     bool      `json:"skipped"`
	SkipReason  string    `json:"skip_reason,omitempty"`
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// Status is the worker's operational snapshot.
type Status struct {
	PendingCount int64        `json:"pending_count"`
	FailedCount  int64        `json:"failed_count"`
	Running      bool         `json:"running"`
	LastCycle    *CycleResult `json:"last_cycle,omitempty"`
}

// Worker periodically pushes pending orders upstream. Orders are processed
// serially, oldest first; all retries for one order happen back-to-back
// before the next order starts. A failing order never halts the batch.
type Worker struct {
	cfg       Config
	store     Store
	uplink    Uplink
	prober    Prober
	summaries SummaryRefresher

	running   atomic.Bool
	lastCycle atomic.Pointer[CycleResult]
	baseCtx   atomic.Pointer[context.Context]

	// sleep is swapped out in tests so cycles never block.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewWorker creates a Worker. Call Start to attach it to the scheduler, or
// drive RunCycle directly.
func NewWorker(cfg Config, store Store, uplink Uplink, prober Prober, summaries SummaryRefresher) *Worker {
	w := &Worker{
		cfg:       cfg,
		store:     store,
		uplink:    uplink,
		prober:    prober,
		summaries: summaries,
		sleep:     sleepCtx,
		now:       time.Now,
	}
	background := context.Background()
	w.baseCtx.Store(&background)
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start blocks running scheduled cycles until ctx is cancelled. The first
// cycle runs shortly after startup so a terminal that was offline overnight
// drains quickly.
func (w *Worker) Start(ctx context.Context) {
	w.baseCtx.Store(&ctx)
	scheduler.RunEvery(ctx, w.cfg.Interval, w.cfg.Warmup, func(ctx context.Context) {
		w.RunCycle(ctx)
	})
}

// TriggerNow starts an out-of-cycle run without waiting for the next tick.
// If a cycle is already in flight the triggered one will no-op.
func (w *Worker) TriggerNow() {
	go w.RunCycle(*w.baseCtx.Load())
}

// RunCycle performs one full sync cycle. Safe to call concurrently with the
// scheduler: overlapping invocations are skipped, never interleaved.
func (w *Worker) RunCycle(ctx context.Context) CycleResult {
	if !w.running.CompareAndSwap(false, true) {
		return CycleResult{Skipped: true, SkipReason: "cycle already running", CompletedAt: w.now()}
	}
	defer w.running.Store(false)

	var res CycleResult

	// A failed probe defers the whole cycle; no per-order attempts, no
	// state mutation.
	if !w.prober.Reachable(ctx) {
		log.Printf("sync: cloud unreachable, skipping cycle")
		res.Skipped = true
		res.SkipReason = "cloud unreachable"
		res.CompletedAt = w.now()
		w.lastCycle.Store(&res)
		return res
	}

	orders, err := w.store.ListPendingSyncOrders(ctx, w.cfg.StoreID)
	if err != nil {
		log.Printf("ERROR: sync: list pending orders: %v", err)
		res.Skipped = true
		res.SkipReason = "list pending failed"
		res.CompletedAt = w.now()
		w.lastCycle.Store(&res)
		return res
	}

	for i, order := range orders {
		// Shutdown cancels between orders, never mid-order.
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		if w.syncOrder(ctx, order) {
			res.Succeeded++
		} else {
			res.Failed++
		}
		if i < len(orders)-1 {
			w.sleep(ctx, w.cfg.OrderGap)
		}
	}

	if res.Succeeded > 0 {
		if _, err := w.summaries.Recompute(ctx, w.cfg.StoreID, w.now()); err != nil {
			log.Printf("ERROR: sync: recompute daily summary: %v", err)
		}
	}

	if res.Attempted > 0 {
		log.Printf("sync: cycle done: %d attempted, %d succeeded, %d failed",
			res.Attempted, res.Succeeded, res.Failed)
	}
	res.CompletedAt = w.now()
	w.lastCycle.Store(&res)
	return res
}

// syncOrder pushes one order with the full retry budget. Returns true when
// the upstream acknowledged. On exhaustion the order is marked FAILED and
// the batch moves on.
func (w *Worker) syncOrder(ctx context.Context, order database.Order) bool {
	items, err := w.store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		// Leave the order PENDING; next cycle picks it up.
		log.Printf("ERROR: sync: load items for order %s: %v", order.OrderNumber, err)
		return false
	}

	req := buildSyncRequest(order, items)

	for attempt := 1; attempt <= w.cfg.Policy.MaxAttempts; attempt++ {
		remoteID, err := w.uplink.Submit(ctx, req)
		if err == nil {
			n, err := w.store.MarkOrderSynced(ctx, database.MarkOrderSyncedParams{
				ID:        order.ID,
				RemoteID:  remoteID,
				UpdatedAt: order.UpdatedAt,
			})
			if err != nil {
				log.Printf("ERROR: sync: mark order %s synced: %v", order.OrderNumber, err)
				return false
			}
			if n == 0 {
				// The order mutated while the snapshot was in flight; it
				// re-queued itself, so leave it PENDING for the next cycle.
				log.Printf("sync: order %s changed mid-flight, leaving pending", order.OrderNumber)
				return false
			}
			return true
		}
		log.Printf("sync: order %s attempt %d/%d failed: %v",
			order.OrderNumber, attempt, w.cfg.Policy.MaxAttempts, err)
		if attempt < w.cfg.Policy.MaxAttempts {
			w.sleep(ctx, w.cfg.Policy.Delay(attempt))
		}
	}

	if err := w.store.MarkOrderSyncFailed(ctx, order.ID); err != nil {
		log.Printf("ERROR: sync: mark order %s failed: %v", order.OrderNumber, err)
	}
	return false
}

// RetryAllFailed moves every FAILED order back to PENDING for the next
// cycle. Returns how many were reset.
func (w *Worker) RetryAllFailed(ctx context.Context) (int64, error) {
	return w.store.ResetFailedSyncOrders(ctx, w.cfg.StoreID)
}

// RetryOrder resets a single FAILED order back to PENDING.
func (w *Worker) RetryOrder(ctx context.Context, orderID uuid.UUID) error {
	n, err := w.store.ResetSyncStatus(ctx, database.ResetSyncStatusParams{
		ID:      orderID,
		StoreID: w.cfg.StoreID,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFailed
	}
	return nil
}

// Status reports pending/failed counts and whether a cycle is in flight.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	pending, err := w.store.CountOrdersBySyncStatus(ctx, database.CountOrdersBySyncStatusParams{
		StoreID:    w.cfg.StoreID,
		SyncStatus: "PENDING",
	})
	if err != nil {
		return Status{}, err
	}
	failed, err := w.store.CountOrdersBySyncStatus(ctx, database.CountOrdersBySyncStatusParams{
		StoreID:    w.cfg.StoreID,
		SyncStatus: "FAILED",
	})
	if err != nil {
		return Status{}, err
	}
	return Status{
		PendingCount: pending,
		FailedCount:  failed,
		Running:      w.running.Load(),
		LastCycle:    w.lastCycle.Load(),
	}, nil
}

// buildSyncRequest assembles the upstream payload. The idempotency key was
// minted at order creation and rides along on every attempt unchanged.
func buildSyncRequest(order database.Order, items []database.OrderItem) SyncRequest {
	data := SyncOrderData{
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName.String,
		CustomerPhone: order.CustomerPhone.String,
		OrderType:     order.OrderType,
		Status:        order.Status,
		Subtotal:      numericToString(order.Subtotal),
		TaxAmount:     numericToString(order.TaxAmount),
		Discount:      numericToString(order.DiscountAmount),
		Total:         numericToString(order.TotalAmount),
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod.String,
	}
	if order.AmountPaid.Valid {
		data.AmountPaid = numericToString(order.AmountPaid)
	}
	for _, it := range items {
		data.Items = append(data.Items, SyncItem{
			ItemRef:    it.MenuItemID.String(),
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  numericToString(it.UnitPrice),
			TotalPrice: numericToString(it.TotalPrice),
			Notes:      it.Notes.String,
		})
	}
	return SyncRequest{
		LocalOrderID:   order.ID.String(),
		StoreID:        order.StoreID.String(),
		CreatedAt:      order.CreatedAt,
		IdempotencyKey: order.IdempotencyKey.String(),
		OrderData:      data,
	}
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.000"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.000"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.000"
	}
	return d.StringFixed(3)
}
