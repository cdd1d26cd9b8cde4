package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, store_id, order_seq, order_number, order_day,
	customer_name, customer_phone, order_type, table_number,
	status, payment_status, payment_method, amount_paid,
	sync_status, idempotency_key, remote_id, synced_at,
	subtotal, tax_amount, discount_amount, total_amount,
	estimated_minutes, actual_minutes, notes,
	created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.StoreID, &o.OrderSeq, &o.OrderNumber, &o.OrderDay,
		&o.CustomerName, &o.CustomerPhone, &o.OrderType, &o.TableNumber,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.AmountPaid,
		&o.SyncStatus, &o.IdempotencyKey, &o.RemoteID, &o.SyncedAt,
		&o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.EstimatedMinutes, &o.ActualMinutes, &o.Notes,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type GetNextOrderNumberParams struct {
	StoreID  uuid.UUID
	OrderDay pgtype.Date
}

// GetNextOrderNumber returns the next sequential order number for the
// store-day. Callers must run this inside the same transaction as the
// insert; the (store_id, order_day, order_seq) unique index catches the
// race where two transactions read the same MAX.
func (q *Queries) GetNextOrderNumber(ctx context.Context, arg GetNextOrderNumberParams) (int32, error) {
	const query = `SELECT COALESCE(MAX(order_seq), 0) + 1
		FROM orders WHERE store_id = $1 AND order_day = $2`
	var next int32
	err := q.db.QueryRow(ctx, query, arg.StoreID, arg.OrderDay).Scan(&next)
	return next, err
}

type CreateOrderParams struct {
	StoreID          uuid.UUID
	OrderSeq         int32
	OrderNumber      string
	OrderDay         pgtype.Date
	CustomerName     pgtype.Text
	CustomerPhone    pgtype.Text
	OrderType        string
	TableNumber      pgtype.Text
	IdempotencyKey   uuid.UUID
	Subtotal         pgtype.Numeric
	TaxAmount        pgtype.Numeric
	DiscountAmount   pgtype.Numeric
	TotalAmount      pgtype.Numeric
	EstimatedMinutes int32
	Notes            pgtype.Text
	CreatedBy        uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	const query = `INSERT INTO orders (
		store_id, order_seq, order_number, order_day,
		customer_name, customer_phone, order_type, table_number,
		idempotency_key, subtotal, tax_amount, discount_amount, total_amount,
		estimated_minutes, notes, created_by
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	RETURNING ` + orderColumns
	row := q.db.QueryRow(ctx, query,
		arg.StoreID, arg.OrderSeq, arg.OrderNumber, arg.OrderDay,
		arg.CustomerName, arg.CustomerPhone, arg.OrderType, arg.TableNumber,
		arg.IdempotencyKey, arg.Subtotal, arg.TaxAmount, arg.DiscountAmount, arg.TotalAmount,
		arg.EstimatedMinutes, arg.Notes, arg.CreatedBy,
	)
	return scanOrder(row)
}

type CreateOrderItemParams struct {
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	Name       string
	Quantity   int32
	UnitPrice  pgtype.Numeric
	TotalPrice pgtype.Numeric
	Notes      pgtype.Text
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	const query = `INSERT INTO order_items (
		order_id, menu_item_id, name, quantity, unit_price, total_price, notes
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, order_id, menu_item_id, name, quantity, unit_price, total_price, notes, prep_status, created_at`
	var it OrderItem
	err := q.db.QueryRow(ctx, query,
		arg.OrderID, arg.MenuItemID, arg.Name, arg.Quantity,
		arg.UnitPrice, arg.TotalPrice, arg.Notes,
	).Scan(
		&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity,
		&it.UnitPrice, &it.TotalPrice, &it.Notes, &it.PrepStatus, &it.CreatedAt,
	)
	return it, err
}

type GetOrderParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND store_id = $2`
	return scanOrder(q.db.QueryRow(ctx, query, arg.ID, arg.StoreID))
}

func (q *Queries) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(q.db.QueryRow(ctx, query, id))
}

type ListOrdersParams struct {
	StoreID    uuid.UUID
	Status     pgtype.Text
	SyncStatus pgtype.Text
	StartDate  pgtype.Timestamptz
	EndDate    pgtype.Timestamptz
	Limit      int32
	Offset     int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR sync_status = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`
	rows, err := q.db.Query(ctx, query,
		arg.StoreID, arg.Status, arg.SyncStatus, arg.StartDate, arg.EndDate,
		arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	const query = `SELECT id, order_id, menu_item_id, name, quantity,
		unit_price, total_price, notes, prep_status, created_at
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`
	rows, err := q.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.Notes, &it.PrepStatus, &it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type UpdateOrderStatusParams struct {
	ID            uuid.UUID
	StoreID       uuid.UUID
	Status        string
	PrevStatus    string
	ActualMinutes pgtype.Int4
}

// UpdateOrderStatus is a conditional update keyed on the previously-observed
// status. A concurrent update that wins the race leaves this one with no
// rows (pgx.ErrNoRows); the caller surfaces that as a transition conflict.
// Any successful status change resets sync_status so the new snapshot is
// re-propagated upstream. actual_minutes is only ever set once.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	const query = `UPDATE orders SET
		status = $3,
		sync_status = 'PENDING',
		actual_minutes = COALESCE(actual_minutes, $5),
		updated_at = now()
	WHERE id = $1 AND store_id = $2 AND status = $4
	RETURNING ` + orderColumns
	row := q.db.QueryRow(ctx, query, arg.ID, arg.StoreID, arg.Status, arg.PrevStatus, arg.ActualMinutes)
	return scanOrder(row)
}

type RecordPaymentParams struct {
	ID            uuid.UUID
	StoreID       uuid.UUID
	PaymentMethod string
	AmountPaid    pgtype.Numeric
}

// RecordPayment marks the order PAID, conditional on the payment still
// being PENDING so a second payment attempt gets no rows.
func (q *Queries) RecordPayment(ctx context.Context, arg RecordPaymentParams) (Order, error) {
	const query = `UPDATE orders SET
		payment_status = 'PAID',
		payment_method = $3,
		amount_paid = $4,
		sync_status = 'PENDING',
		updated_at = now()
	WHERE id = $1 AND store_id = $2 AND payment_status = 'PENDING'
	RETURNING ` + orderColumns
	row := q.db.QueryRow(ctx, query, arg.ID, arg.StoreID, arg.PaymentMethod, arg.AmountPaid)
	return scanOrder(row)
}

type CancelOrderParams struct {
	ID         uuid.UUID
	StoreID    uuid.UUID
	PrevStatus string
}

// CancelOrder enforces the cancellation preconditions atomically: conditional
// on the previously-observed status, never terminal, and not paid (a refund
// must run first).
func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	const query = `UPDATE orders SET
		status = 'CANCELLED',
		sync_status = 'PENDING',
		updated_at = now()
	WHERE id = $1 AND store_id = $2
	  AND status = $3
	  AND status NOT IN ('SERVED', 'CANCELLED')
	  AND payment_status <> 'PAID'
	RETURNING ` + orderColumns
	return scanOrder(q.db.QueryRow(ctx, query, arg.ID, arg.StoreID, arg.PrevStatus))
}

// ListActiveKitchenOrders returns orders the kitchen display cares about,
// oldest first.
func (q *Queries) ListActiveKitchenOrders(ctx context.Context, storeID uuid.UUID) ([]Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1 AND status IN ('CONFIRMED', 'PREPARING')
		ORDER BY created_at ASC`
	rows, err := q.db.Query(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// MarkOrderItemPrepared flips a single line to PREPARED. Idempotent; the
// prep status has no bearing on the order state machine.
func (q *Queries) MarkOrderItemPrepared(ctx context.Context, itemID uuid.UUID) (OrderItem, error) {
	const query = `UPDATE order_items SET prep_status = 'PREPARED'
		WHERE id = $1
		RETURNING id, order_id, menu_item_id, name, quantity, unit_price, total_price, notes, prep_status, created_at`
	var it OrderItem
	err := q.db.QueryRow(ctx, query, itemID).Scan(
		&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity,
		&it.UnitPrice, &it.TotalPrice, &it.Notes, &it.PrepStatus, &it.CreatedAt,
	)
	return it, err
}
