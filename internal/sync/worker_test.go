package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/enum"
)

// --- Mocks ---

type mockStore struct {
	listPendingFn    func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error)
	listItemsFn      func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	markSyncedFn     func(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error)
	markFailedFn     func(ctx context.Context, id uuid.UUID) error
	resetFailedFn    func(ctx context.Context, storeID uuid.UUID) (int64, error)
	resetOneFn       func(ctx context.Context, arg database.ResetSyncStatusParams) (int64, error)
	countBySyncFn    func(ctx context.Context, arg database.CountOrdersBySyncStatusParams) (int64, error)
}

func (m *mockStore) ListPendingSyncOrders(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, storeID)
	}
	return nil, nil
}
func (m *mockStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	if m.listItemsFn != nil {
		return m.listItemsFn(ctx, orderID)
	}
	return nil, nil
}
func (m *mockStore) MarkOrderSynced(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error) {
	if m.markSyncedFn != nil {
		return m.markSyncedFn(ctx, arg)
	}
	return 1, nil
}
func (m *mockStore) MarkOrderSyncFailed(ctx context.Context, id uuid.UUID) error {
	if m.markFailedFn != nil {
		return m.markFailedFn(ctx, id)
	}
	return nil
}
func (m *mockStore) ResetFailedSyncOrders(ctx context.Context, storeID uuid.UUID) (int64, error) {
	if m.resetFailedFn != nil {
		return m.resetFailedFn(ctx, storeID)
	}
	return 0, nil
}
func (m *mockStore) ResetSyncStatus(ctx context.Context, arg database.ResetSyncStatusParams) (int64, error) {
	if m.resetOneFn != nil {
		return m.resetOneFn(ctx, arg)
	}
	return 0, nil
}
func (m *mockStore) CountOrdersBySyncStatus(ctx context.Context, arg database.CountOrdersBySyncStatusParams) (int64, error) {
	if m.countBySyncFn != nil {
		return m.countBySyncFn(ctx, arg)
	}
	return 0, nil
}

type mockUplink struct {
	submitFn func(ctx context.Context, req SyncRequest) (string, error)
	requests []SyncRequest
}

func (m *mockUplink) Submit(ctx context.Context, req SyncRequest) (string, error) {
	m.requests = append(m.requests, req)
	return m.submitFn(ctx, req)
}

type mockProber struct {
	reachable bool
}

func (m *mockProber) Reachable(ctx context.Context) bool { return m.reachable }

type mockSummaries struct {
	calls int
}

func (m *mockSummaries) Recompute(ctx context.Context, storeID uuid.UUID, day time.Time) (database.DailySummary, error) {
	m.calls++
	return database.DailySummary{}, nil
}

// --- Helpers ---

func testWorker(store *mockStore, uplink *mockUplink, reachable bool) (*Worker, *mockSummaries) {
	summaries := &mockSummaries{}
	w := NewWorker(Config{
		StoreID:  uuid.New(),
		Interval: time.Minute,
		OrderGap: time.Millisecond,
		Policy:   DefaultPolicy(),
	}, store, uplink, &mockProber{reachable: reachable}, summaries)
	// No real sleeping in tests.
	w.sleep = func(ctx context.Context, d time.Duration) {}
	return w, summaries
}

func pendingOrder(num string, key uuid.UUID) database.Order {
	return database.Order{
		ID:             uuid.New(),
		StoreID:        uuid.New(),
		OrderNumber:    num,
		OrderType:      enum.OrderTypeTakeaway,
		Status:         enum.OrderStatusServed,
		PaymentStatus:  enum.PaymentStatusPaid,
		SyncStatus:     enum.SyncStatusPending,
		IdempotencyKey: key,
		UpdatedAt:      time.Date(2026, time.March, 14, 12, 30, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestRunCycle_UnreachableSkipsWithoutMutation(t *testing.T) {
	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			t.Fatal("pending orders must not be listed when the probe fails")
			return nil, nil
		},
		markFailedFn: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("no order may be marked failed when the probe fails")
			return nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		t.Fatal("no submission when the probe fails")
		return "", nil
	}}

	w, summaries := testWorker(store, uplink, false)
	res := w.RunCycle(context.Background())

	if !res.Skipped || res.SkipReason != "cloud unreachable" {
		t.Errorf("expected skipped cycle, got %+v", res)
	}
	if summaries.calls != 0 {
		t.Errorf("summary recompute calls: got %d, want 0", summaries.calls)
	}
}

func TestRunCycle_SuccessMarksSyncedAndRecomputesOnce(t *testing.T) {
	key := uuid.New()
	order := pendingOrder("POS-20260314-001", key)

	var synced []database.MarkOrderSyncedParams
	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{order}, nil
		},
		markSyncedFn: func(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error) {
			synced = append(synced, arg)
			return 1, nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "cloud-42", nil
	}}

	w, summaries := testWorker(store, uplink, true)
	res := w.RunCycle(context.Background())

	if res.Succeeded != 1 || res.Failed != 0 {
		t.Fatalf("cycle result: %+v", res)
	}
	if len(synced) != 1 || synced[0].RemoteID != "cloud-42" || synced[0].ID != order.ID {
		t.Errorf("mark synced: got %+v", synced)
	}
	if len(synced) == 1 && !synced[0].UpdatedAt.Equal(order.UpdatedAt) {
		t.Errorf("mark synced snapshot time: got %v, want %v", synced[0].UpdatedAt, order.UpdatedAt)
	}
	if summaries.calls != 1 {
		t.Errorf("summary recompute calls: got %d, want 1", summaries.calls)
	}
	if len(uplink.requests) != 1 {
		t.Fatalf("submissions: got %d, want 1", len(uplink.requests))
	}
	if uplink.requests[0].IdempotencyKey != key.String() {
		t.Errorf("idempotency key: got %s, want %s", uplink.requests[0].IdempotencyKey, key)
	}
}

func TestRunCycle_StaleSnapshotLeavesOrderPending(t *testing.T) {
	order := pendingOrder("POS-20260314-009", uuid.New())

	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{order}, nil
		},
		markSyncedFn: func(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error) {
			// The order mutated after the snapshot was read, so the
			// conditional acknowledgement matches no row.
			return 0, nil
		},
		markFailedFn: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("a mid-flight mutation must not mark the order FAILED")
			return nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "cloud-77", nil
	}}

	w, summaries := testWorker(store, uplink, true)
	res := w.RunCycle(context.Background())

	if res.Succeeded != 0 || res.Failed != 1 {
		t.Fatalf("cycle result: %+v", res)
	}
	if len(uplink.requests) != 1 {
		t.Errorf("submissions: got %d, want 1 (upstream acknowledged, no retry)", len(uplink.requests))
	}
	if summaries.calls != 0 {
		t.Errorf("summary recompute calls: got %d, want 0", summaries.calls)
	}
}

func TestRunCycle_ExhaustedRetriesMarksFailed(t *testing.T) {
	key := uuid.New()
	order := pendingOrder("POS-20260314-002", key)

	var failed []uuid.UUID
	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{order}, nil
		},
		markSyncedFn: func(ctx context.Context, arg database.MarkOrderSyncedParams) (int64, error) {
			t.Fatal("order must not be marked synced")
			return 0, nil
		},
		markFailedFn: func(ctx context.Context, id uuid.UUID) error {
			failed = append(failed, id)
			return nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "", errors.New("upstream 503")
	}}

	w, summaries := testWorker(store, uplink, true)
	res := w.RunCycle(context.Background())

	if res.Failed != 1 || res.Succeeded != 0 {
		t.Fatalf("cycle result: %+v", res)
	}
	if len(uplink.requests) != DefaultPolicy().MaxAttempts {
		t.Errorf("attempts: got %d, want %d", len(uplink.requests), DefaultPolicy().MaxAttempts)
	}
	if len(failed) != 1 || failed[0] != order.ID {
		t.Errorf("mark failed: got %v", failed)
	}
	if summaries.calls != 0 {
		t.Errorf("summary recompute calls: got %d, want 0", summaries.calls)
	}

	// Every retry must reuse the key minted at creation.
	for i, req := range uplink.requests {
		if req.IdempotencyKey != key.String() {
			t.Errorf("attempt %d idempotency key: got %s, want %s", i+1, req.IdempotencyKey, key)
		}
	}
}

func TestRunCycle_BackoffDelaysBetweenAttempts(t *testing.T) {
	order := pendingOrder("POS-20260314-008", uuid.New())
	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{order}, nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "", errors.New("timeout")
	}}

	w, _ := testWorker(store, uplink, true)
	var delays []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) {
		delays = append(delays, d)
	}
	w.RunCycle(context.Background())

	// Three attempts pause twice, never after the last. A single-order
	// batch has no inter-order gap.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("sleeps: got %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d: got %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRunCycle_FailingOrderDoesNotHaltBatch(t *testing.T) {
	bad := pendingOrder("POS-20260314-003", uuid.New())
	good := pendingOrder("POS-20260314-004", uuid.New())

	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{bad, good}, nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		if req.OrderData.OrderNumber == bad.OrderNumber {
			return "", errors.New("validation rejected")
		}
		return "cloud-99", nil
	}}

	w, summaries := testWorker(store, uplink, true)
	res := w.RunCycle(context.Background())

	if res.Attempted != 2 || res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("cycle result: %+v", res)
	}
	if summaries.calls != 1 {
		t.Errorf("summary recompute calls: got %d, want 1", summaries.calls)
	}
}

func TestRunCycle_ProcessesOldestFirstSerially(t *testing.T) {
	first := pendingOrder("POS-20260314-001", uuid.New())
	second := pendingOrder("POS-20260314-002", uuid.New())

	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{first, second}, nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "ok", nil
	}}

	w, _ := testWorker(store, uplink, true)
	w.RunCycle(context.Background())

	if len(uplink.requests) != 2 {
		t.Fatalf("submissions: got %d, want 2", len(uplink.requests))
	}
	if uplink.requests[0].OrderData.OrderNumber != first.OrderNumber {
		t.Errorf("first submission: got %s, want %s", uplink.requests[0].OrderData.OrderNumber, first.OrderNumber)
	}
	if uplink.requests[1].OrderData.OrderNumber != second.OrderNumber {
		t.Errorf("second submission: got %s, want %s", uplink.requests[1].OrderData.OrderNumber, second.OrderNumber)
	}
}

func TestRunCycle_ItemLoadFailureLeavesOrderPending(t *testing.T) {
	order := pendingOrder("POS-20260314-005", uuid.New())

	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return []database.Order{order}, nil
		},
		listItemsFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
			return nil, errors.New("db gone")
		},
		markFailedFn: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("order must stay PENDING when items cannot be loaded")
			return nil
		},
	}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		t.Fatal("no submission without items")
		return "", nil
	}}

	w, _ := testWorker(store, uplink, true)
	res := w.RunCycle(context.Background())

	if res.Failed != 1 {
		t.Errorf("cycle result: %+v", res)
	}
}

func TestRunCycle_OverlappingCycleSkipped(t *testing.T) {
	w, _ := testWorker(&mockStore{}, &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "ok", nil
	}}, true)

	w.running.Store(true)
	res := w.RunCycle(context.Background())
	if !res.Skipped || res.SkipReason != "cycle already running" {
		t.Errorf("expected overlap skip, got %+v", res)
	}
}

func TestRunCycle_CancelledContextStopsBetweenOrders(t *testing.T) {
	orders := []database.Order{
		pendingOrder("POS-20260314-006", uuid.New()),
		pendingOrder("POS-20260314-007", uuid.New()),
	}
	store := &mockStore{
		listPendingFn: func(ctx context.Context, storeID uuid.UUID) ([]database.Order, error) {
			return orders, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	uplink := &mockUplink{submitFn: func(c context.Context, req SyncRequest) (string, error) {
		cancel() // shutdown arrives while the first order is in flight
		return "ok", nil
	}}

	w, _ := testWorker(store, uplink, true)
	res := w.RunCycle(ctx)

	if res.Attempted != 1 {
		t.Errorf("attempted: got %d, want 1 (second order deferred to next cycle)", res.Attempted)
	}
}

func TestTriggerNow_ConcurrentWithStart(t *testing.T) {
	store := &mockStore{}
	uplink := &mockUplink{submitFn: func(ctx context.Context, req SyncRequest) (string, error) {
		return "ok", nil
	}}
	w, _ := testWorker(store, uplink, true)
	// Push the first scheduled cycle far away so only the trigger runs.
	w.cfg.Warmup = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()
	w.TriggerNow()

	deadline := time.Now().Add(time.Second)
	for w.lastCycle.Load() == nil {
		if time.Now().After(deadline) {
			t.Fatal("triggered cycle never completed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}

func TestRetryAllFailed(t *testing.T) {
	store := &mockStore{
		resetFailedFn: func(ctx context.Context, storeID uuid.UUID) (int64, error) {
			return 4, nil
		},
	}
	w, _ := testWorker(store, &mockUplink{}, true)

	n, err := w.RetryAllFailed(context.Background())
	if err != nil {
		t.Fatalf("retry all failed: %v", err)
	}
	if n != 4 {
		t.Errorf("reset count: got %d, want 4", n)
	}
}

func TestRetryOrder_NotFailed(t *testing.T) {
	store := &mockStore{
		resetOneFn: func(ctx context.Context, arg database.ResetSyncStatusParams) (int64, error) {
			return 0, nil
		},
	}
	w, _ := testWorker(store, &mockUplink{}, true)

	err := w.RetryOrder(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	store := &mockStore{
		countBySyncFn: func(ctx context.Context, arg database.CountOrdersBySyncStatusParams) (int64, error) {
			switch arg.SyncStatus {
			case enum.SyncStatusPending:
				return 3, nil
			case enum.SyncStatusFailed:
				return 1, nil
			}
			return 0, nil
		},
	}
	w, _ := testWorker(store, &mockUplink{}, true)

	status, err := w.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.PendingCount != 3 || status.FailedCount != 1 || status.Running {
		t.Errorf("status: got %+v", status)
	}
}
