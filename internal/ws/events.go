package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/enum"
)

// Events fans domain events out to the hub's rooms. It is the realtime
// counterpart of the order service: one mutation in, one event per
// interested room out.
type Events struct {
	hub *Hub
}

func NewEvents(hub *Hub) *Events {
	return &Events{hub: hub}
}

// OrderPayload is the full order view sent to staff rooms and per-order
// tracking rooms.
type OrderPayload struct {
	ID               uuid.UUID `json:"id"`
	OrderNumber      string    `json:"order_number"`
	OrderType        string    `json:"order_type"`
	TableNumber      string    `json:"table_number,omitempty"`
	CustomerName     string    `json:"customer_name,omitempty"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentMethod    string    `json:"payment_method,omitempty"`
	Subtotal         string    `json:"subtotal"`
	TaxAmount        string    `json:"tax_amount"`
	DiscountAmount   string    `json:"discount_amount"`
	TotalAmount      string    `json:"total_amount"`
	AmountPaid       string    `json:"amount_paid,omitempty"`
	EstimatedMinutes int32     `json:"estimated_minutes"`
	ActualMinutes    *int32    `json:"actual_minutes,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// KitchenOrderProjection is the order view for kitchen displays. It carries
// preparation data only; payment and monetary fields are stripped.
type KitchenOrderProjection struct {
	ID               uuid.UUID     `json:"id"`
	OrderNumber      string        `json:"order_number"`
	OrderType        string        `json:"order_type"`
	TableNumber      string        `json:"table_number,omitempty"`
	Status           string        `json:"status"`
	EstimatedMinutes int32         `json:"estimated_minutes"`
	Notes            string        `json:"notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	Items            []KitchenItem `json:"items"`
}

type KitchenItem struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Quantity   int32     `json:"quantity"`
	Notes      string    `json:"notes,omitempty"`
	PrepStatus string    `json:"prep_status"`
}

// ItemPreparedPayload announces a single prepared line item.
type ItemPreparedPayload struct {
	OrderID    uuid.UUID `json:"order_id"`
	ItemID     uuid.UUID `json:"item_id"`
	Name       string    `json:"name"`
	PrepStatus string    `json:"prep_status"`
}

type presencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
}

// OrderCreated announces a new order to the store room and, as a stripped
// projection, to the kitchen room.
func (e *Events) OrderCreated(order database.Order, items []database.OrderItem) {
	e.hub.Publish(StoreRoom(order.StoreID), "order.created", orderPayload(order))
	e.hub.Publish(KitchenRoom(order.StoreID), "order.created", kitchenProjection(order, items))
}

// OrderStatusChanged announces a lifecycle transition to the store room, the
// kitchen room, and the order's own tracking room.
func (e *Events) OrderStatusChanged(order database.Order) {
	payload := orderPayload(order)
	e.hub.Publish(StoreRoom(order.StoreID), "order.status_changed", payload)
	e.hub.Publish(KitchenRoom(order.StoreID), "order.status_changed", kitchenStatusPayload(order))
	e.hub.Publish(OrderRoom(order.ID), "order.status_changed", payload)
}

// OrderReady notifies customers (and the order's tracking room) that the
// order can be picked up.
func (e *Events) OrderReady(order database.Order) {
	payload := map[string]any{
		"id":           order.ID,
		"order_number": order.OrderNumber,
		"status":       order.Status,
	}
	e.hub.Publish(CustomerRoom(order.StoreID), "order.ready", payload)
	e.hub.Publish(OrderRoom(order.ID), "order.ready", payload)
}

// OrderPaid announces a recorded payment to the store room and the order's
// tracking room. When the payment arrived while the order was still
// PENDING, the kitchen gets a confirmation signal so preparation can start
// without waiting for the cashier.
func (e *Events) OrderPaid(order database.Order, wasPending bool) {
	payload := orderPayload(order)
	e.hub.Publish(StoreRoom(order.StoreID), "order.paid", payload)
	e.hub.Publish(OrderRoom(order.ID), "order.paid", payload)
	if wasPending {
		e.hub.Publish(KitchenRoom(order.StoreID), "order.confirmed_by_payment", kitchenStatusPayload(order))
	}
}

// --- payload builders ---

func orderPayload(o database.Order) OrderPayload {
	p := OrderPayload{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		OrderType:        o.OrderType,
		TableNumber:      textValue(o.TableNumber),
		CustomerName:     textValue(o.CustomerName),
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentMethod:    textValue(o.PaymentMethod),
		Subtotal:         numericString(o.Subtotal),
		TaxAmount:        numericString(o.TaxAmount),
		DiscountAmount:   numericString(o.DiscountAmount),
		TotalAmount:      numericString(o.TotalAmount),
		EstimatedMinutes: o.EstimatedMinutes,
		Notes:            textValue(o.Notes),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.PaymentStatus == enum.PaymentStatusPaid {
		p.AmountPaid = numericString(o.AmountPaid)
	}
	if o.ActualMinutes.Valid {
		v := o.ActualMinutes.Int32
		p.ActualMinutes = &v
	}
	return p
}

func kitchenProjection(o database.Order, items []database.OrderItem) KitchenOrderProjection {
	proj := KitchenOrderProjection{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		OrderType:        o.OrderType,
		TableNumber:      textValue(o.TableNumber),
		Status:           o.Status,
		EstimatedMinutes: o.EstimatedMinutes,
		Notes:            textValue(o.Notes),
		CreatedAt:        o.CreatedAt,
		Items:            make([]KitchenItem, 0, len(items)),
	}
	for _, it := range items {
		proj.Items = append(proj.Items, KitchenItem{
			ID:         it.ID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Notes:      textValue(it.Notes),
			PrepStatus: it.PrepStatus,
		})
	}
	return proj
}

// kitchenStatusPayload is the thin status update for kitchen displays,
// again without payment or monetary fields.
func kitchenStatusPayload(o database.Order) map[string]any {
	return map[string]any{
		"id":           o.ID,
		"order_number": o.OrderNumber,
		"status":       o.Status,
	}
}

func itemPreparedPayload(it database.OrderItem) ItemPreparedPayload {
	return ItemPreparedPayload{
		OrderID:    it.OrderID,
		ItemID:     it.ID,
		Name:       it.Name,
		PrepStatus: it.PrepStatus,
	}
}

func textValue(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

func numericString(n pgtype.Numeric) string {
	if !n.Valid || n.Int == nil {
		return "0.000"
	}
	return decimal.NewFromBigInt(n.Int, n.Exp).StringFixed(3)
}
