package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/enum"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

// paymentTolerance is the largest accepted gap between the tendered amount
// and the order total.
var paymentTolerance = decimal.NewFromFloat(0.01)

// Validation errors returned by the order service.
var (
	ErrEmptyItems           = errors.New("items are required")
	ErrInvalidOrderType     = errors.New("invalid order_type")
	ErrInvalidQuantity      = errors.New("quantity must be > 0")
	ErrInvalidUnitPrice     = errors.New("invalid unit_price")
	ErrInvalidMenuItemID    = errors.New("invalid menu_item_id")
	ErrInvalidDiscount      = errors.New("invalid discount")
	ErrInvalidPaymentMethod = errors.New("invalid payment_method")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidStatus        = errors.New("invalid status")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetNextOrderNumber(ctx context.Context, arg database.GetNextOrderNumberParams) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	RecordPayment(ctx context.Context, arg database.RecordPaymentParams) (database.Order, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// EventSink receives domain events synchronously after the corresponding
// state mutation commits. Implemented by ws.Events; best-effort delivery.
type EventSink interface {
	OrderCreated(order database.Order, items []database.OrderItem)
	OrderStatusChanged(order database.Order)
	OrderReady(order database.Order)
	OrderPaid(order database.Order, wasPending bool)
}

// CreateOrderRequest is the validated input for creating an order. Item
// names and unit prices arrive from the terminal UI, which owns the menu;
// the service snapshots them verbatim.
type CreateOrderRequest struct {
	StoreID          uuid.UUID
	CreatedBy        uuid.UUID
	OrderType        string
	TableNumber      string
	CustomerName     string
	CustomerPhone    string
	Notes            string
	Discount         string
	EstimatedMinutes int32
	Items            []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single line on the order.
type CreateOrderItemRequest struct {
	MenuItemID string
	Name       string
	Quantity   int32
	UnitPrice  string
	Notes      string
}

// CreateOrderResult is the created order with its items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// UpdateStatusRequest asks for a single status transition.
type UpdateStatusRequest struct {
	StoreID uuid.UUID
	OrderID uuid.UUID
	Status  string
}

// RecordPaymentRequest records a payment against an order.
type RecordPaymentRequest struct {
	StoreID       uuid.UUID
	OrderID       uuid.UUID
	PaymentMethod string
	Amount        string
}

// OrderService owns the order lifecycle: creation, status transitions,
// payment, cancellation. All contended mutations go through conditional
// updates so concurrent requests cannot both win from the same prior state.
type OrderService struct {
	pool     TxBeginner
	store    OrderStore
	newStore NewOrderStore
	events   EventSink
	taxRate  decimal.Decimal
	now      func() time.Time
}

// NewOrderService creates an OrderService. taxRate is a percentage ("10"
// means 10%).
func NewOrderService(pool TxBeginner, store OrderStore, newStore NewOrderStore, events EventSink, taxRate string) *OrderService {
	rate, err := decimal.NewFromString(taxRate)
	if err != nil {
		rate = decimal.Zero
	}
	return &OrderService{
		pool:     pool,
		store:    store,
		newStore: newStore,
		events:   events,
		taxRate:  rate,
		now:      time.Now,
	}
}

// processedItem holds a prepared order item insert.
type processedItem struct {
	params database.CreateOrderItemParams
}

// CreateOrder validates, snapshots prices, and creates an order atomically.
// The idempotency key is minted exactly once here and never regenerated.
// Retries up to maxOrderNumberRetries times on order_seq unique constraint
// violations (concurrent transactions reading the same MAX).
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := validateOrderType(req.OrderType); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	subtotal := decimal.Zero
	items := make([]processedItem, 0, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		menuItemID, err := uuid.Parse(item.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidMenuItemID)
		}
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil || unitPrice.IsNegative() {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidUnitPrice)
		}

		lineTotal := unitPrice.Mul(decimal.NewFromInt32(item.Quantity))
		subtotal = subtotal.Add(lineTotal)

		items = append(items, processedItem{
			params: database.CreateOrderItemParams{
				MenuItemID: menuItemID,
				Name:       item.Name,
				Quantity:   item.Quantity,
				UnitPrice:  decimalToNumeric(unitPrice),
				TotalPrice: decimalToNumeric(lineTotal),
				Notes:      textOrNull(item.Notes),
			},
		})
	}

	discount := decimal.Zero
	if req.Discount != "" {
		d, err := decimal.NewFromString(req.Discount)
		if err != nil || d.IsNegative() {
			return nil, ErrInvalidDiscount
		}
		discount = d
	}

	tax := subtotal.Mul(s.taxRate).Div(decimal.NewFromInt(100))
	total := subtotal.Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	// Retry loop: handles the order_seq unique constraint race.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req, items, subtotal, tax, discount, total)
		if err == nil {
			s.events.OrderCreated(result.Order, result.Items)
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, items []processedItem, subtotal, tax, discount, total decimal.Decimal) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	day := s.now()
	orderDay := pgtype.Date{Time: day, Valid: true}
	seq, err := store.GetNextOrderNumber(ctx, database.GetNextOrderNumberParams{
		StoreID:  req.StoreID,
		OrderDay: orderDay,
	})
	if err != nil {
		return nil, fmt.Errorf("get next order number: %w", err)
	}
	orderNumber := fmt.Sprintf("POS-%s-%03d", day.Format("20060102"), seq)

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		StoreID:          req.StoreID,
		OrderSeq:         seq,
		OrderNumber:      orderNumber,
		OrderDay:         orderDay,
		CustomerName:     textOrNull(req.CustomerName),
		CustomerPhone:    textOrNull(req.CustomerPhone),
		OrderType:        req.OrderType,
		TableNumber:      textOrNull(req.TableNumber),
		IdempotencyKey:   uuid.New(),
		Subtotal:         decimalToNumeric(subtotal),
		TaxAmount:        decimalToNumeric(tax),
		DiscountAmount:   decimalToNumeric(discount),
		TotalAmount:      decimalToNumeric(total),
		EstimatedMinutes: req.EstimatedMinutes,
		Notes:            textOrNull(req.Notes),
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	created := make([]database.OrderItem, 0, len(items))
	for _, pi := range items {
		pi.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		created = append(created, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: order, Items: created}, nil
}

// UpdateStatus applies a single transition through the state machine. The
// write is conditional on the status observed here; a concurrent update that
// commits first leaves this request with an invalid-transition error rather
// than silently overwriting.
func (s *OrderService) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (database.Order, error) {
	if !isValidOrderStatus(req.Status) {
		return database.Order{}, ErrInvalidStatus
	}

	current, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: req.OrderID, StoreID: req.StoreID})
	if err != nil {
		return database.Order{}, err
	}

	if req.Status == enum.OrderStatusCancelled {
		return s.cancel(ctx, current)
	}

	if !CanTransition(current.Status, req.Status) {
		return database.Order{}, transitionError(current.Status, req.Status)
	}

	// Entering SERVED fixes actual_minutes as whole minutes since creation,
	// never less than one; the conditional UPDATE only sets it when unset.
	var actualMinutes pgtype.Int4
	if current.Status == enum.OrderStatusReady && req.Status == enum.OrderStatusServed {
		m := int32(s.now().Sub(current.CreatedAt).Minutes())
		if m < 1 {
			m = 1
		}
		actualMinutes = pgtype.Int4{Int32: m, Valid: true}
	}

	updated, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:            req.OrderID,
		StoreID:       req.StoreID,
		Status:        req.Status,
		PrevStatus:    current.Status,
		ActualMinutes: actualMinutes,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race: the status moved between our read and write.
			return database.Order{}, fmt.Errorf("%w: order status changed concurrently", ErrInvalidTransition)
		}
		return database.Order{}, err
	}

	s.events.OrderStatusChanged(updated)
	if updated.Status == enum.OrderStatusReady {
		s.events.OrderReady(updated)
	}
	return updated, nil
}

// Cancel cancels an order, refusing when the order is terminal or paid.
func (s *OrderService) Cancel(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error) {
	current, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, err
	}
	return s.cancel(ctx, current)
}

func (s *OrderService) cancel(ctx context.Context, current database.Order) (database.Order, error) {
	if !CanTransition(current.Status, enum.OrderStatusCancelled) {
		return database.Order{}, transitionError(current.Status, enum.OrderStatusCancelled)
	}
	if current.PaymentStatus == enum.PaymentStatusPaid {
		return database.Order{}, ErrOrderPaid
	}

	cancelled, err := s.store.CancelOrder(ctx, database.CancelOrderParams{
		ID:         current.ID,
		StoreID:    current.StoreID,
		PrevStatus: current.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}
		return database.Order{}, err
	}

	s.events.OrderStatusChanged(cancelled)
	return cancelled, nil
}

// RecordPayment records a single payment against the order. The tendered
// amount must match the order total within the fixed tolerance, and PAID is
// terminal until an explicit refund (out of scope here).
func (s *OrderService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (database.Order, error) {
	if !isValidPaymentMethod(req.PaymentMethod) {
		return database.Order{}, ErrInvalidPaymentMethod
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return database.Order{}, ErrInvalidAmount
	}

	current, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: req.OrderID, StoreID: req.StoreID})
	if err != nil {
		return database.Order{}, err
	}
	if current.Status == enum.OrderStatusCancelled {
		return database.Order{}, ErrOrderCancelled
	}
	if current.PaymentStatus != enum.PaymentStatusPending {
		return database.Order{}, ErrAlreadyPaid
	}

	total := numericToDecimal(current.TotalAmount)
	if amount.Sub(total).Abs().GreaterThan(paymentTolerance) {
		return database.Order{}, fmt.Errorf("%w: tendered %s, total %s", ErrAmountMismatch, amount.StringFixed(3), total.StringFixed(3))
	}

	paid, err := s.store.RecordPayment(ctx, database.RecordPaymentParams{
		ID:            req.OrderID,
		StoreID:       req.StoreID,
		PaymentMethod: req.PaymentMethod,
		AmountPaid:    decimalToNumeric(amount),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another payment won the conditional update.
			return database.Order{}, ErrAlreadyPaid
		}
		return database.Order{}, err
	}

	s.events.OrderPaid(paid, current.Status == enum.OrderStatusPending)
	return paid, nil
}

// --- Helpers ---

// isOrderNumberConflict checks for a unique constraint violation on the
// per-store-day sequence (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_store_id_order_day_order_seq_key"
	}
	return false
}

func validateOrderType(s string) error {
	switch s {
	case enum.OrderTypeDineIn, enum.OrderTypeTakeaway, enum.OrderTypeDelivery:
		return nil
	}
	return ErrInvalidOrderType
}

func isValidPaymentMethod(s string) bool {
	switch s {
	case enum.PaymentMethodCash, enum.PaymentMethodQRIS, enum.PaymentMethodCard, enum.PaymentMethodTransfer:
		return true
	}
	return false
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(3))
	return n
}
