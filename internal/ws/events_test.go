package ws

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/enum"
)

func makeNumeric(coef int64, exp int32) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(coef), Exp: exp, Valid: true}
}

func paidOrder() database.Order {
	return database.Order{
		ID:               uuid.New(),
		StoreID:          uuid.New(),
		OrderNumber:      "POS-20260314-042",
		OrderType:        enum.OrderTypeDineIn,
		TableNumber:      pgtype.Text{String: "A3", Valid: true},
		Status:           enum.OrderStatusPreparing,
		PaymentStatus:    enum.PaymentStatusPaid,
		PaymentMethod:    pgtype.Text{String: enum.PaymentMethodCash, Valid: true},
		AmountPaid:       makeNumeric(25267, -3),
		Subtotal:         makeNumeric(22970, -3),
		TaxAmount:        makeNumeric(2297, -3),
		DiscountAmount:   makeNumeric(0, 0),
		TotalAmount:      makeNumeric(25267, -3),
		EstimatedMinutes: 15,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func TestKitchenProjectionOmitsPaymentFields(t *testing.T) {
	order := paidOrder()
	items := []database.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, Name: "Nasi Goreng", Quantity: 2,
			UnitPrice: makeNumeric(4990, -3), TotalPrice: makeNumeric(9980, -3),
			PrepStatus: enum.ItemPrepStatusPending},
	}

	raw, err := json.Marshal(kitchenProjection(order, items))
	if err != nil {
		t.Fatalf("marshal projection: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal projection: %v", err)
	}

	for _, forbidden := range []string{
		"payment_status", "payment_method", "amount_paid",
		"subtotal", "tax_amount", "discount_amount", "total_amount",
	} {
		if _, ok := fields[forbidden]; ok {
			t.Errorf("kitchen projection must not carry %q", forbidden)
		}
	}
	if fields["order_number"] != order.OrderNumber {
		t.Errorf("order_number: got %v", fields["order_number"])
	}

	var itemFields []map[string]any
	itemsRaw, _ := json.Marshal(fields["items"])
	json.Unmarshal(itemsRaw, &itemFields)
	if len(itemFields) != 1 {
		t.Fatalf("projected items: got %d, want 1", len(itemFields))
	}
	for _, forbidden := range []string{"unit_price", "total_price"} {
		if _, ok := itemFields[0][forbidden]; ok {
			t.Errorf("kitchen item must not carry %q", forbidden)
		}
	}
}

func TestOrderPayloadAmountPaidOnlyWhenPaid(t *testing.T) {
	order := paidOrder()

	p := orderPayload(order)
	if p.AmountPaid != "25.267" {
		t.Errorf("amount paid: got %q, want 25.267", p.AmountPaid)
	}

	order.PaymentStatus = enum.PaymentStatusPending
	p = orderPayload(order)
	if p.AmountPaid != "" {
		t.Errorf("unpaid order must not expose amount paid, got %q", p.AmountPaid)
	}
}

func TestOrderPayloadActualMinutes(t *testing.T) {
	order := paidOrder()

	if p := orderPayload(order); p.ActualMinutes != nil {
		t.Errorf("actual minutes before serving: got %v, want nil", *p.ActualMinutes)
	}

	order.ActualMinutes = pgtype.Int4{Int32: 23, Valid: true}
	p := orderPayload(order)
	if p.ActualMinutes == nil || *p.ActualMinutes != 23 {
		t.Errorf("actual minutes: got %v, want 23", p.ActualMinutes)
	}
}

func TestNumericString(t *testing.T) {
	if got := numericString(makeNumeric(25267, -3)); got != "25.267" {
		t.Errorf("got %q, want 25.267", got)
	}
	if got := numericString(makeNumeric(13, 0)); got != "13.000" {
		t.Errorf("got %q, want 13.000", got)
	}
	if got := numericString(pgtype.Numeric{}); got != "0.000" {
		t.Errorf("invalid numeric: got %q, want 0.000", got)
	}
}

func TestOrderPaidSignalsKitchenOnlyWhenPending(t *testing.T) {
	h := runHub(t)
	events := NewEvents(h)
	order := paidOrder()

	kitchen := newTestClient(h, KitchenRoom(order.StoreID))
	cashier := newTestClient(h, StoreRoom(order.StoreID))
	h.register <- kitchen
	h.register <- cashier

	// Payment on a PENDING order doubles as confirmation for the kitchen.
	events.OrderPaid(order, true)
	if ev := recvEvent(t, cashier); ev.Type != "order.paid" {
		t.Errorf("store room event: got %q, want order.paid", ev.Type)
	}
	if ev := recvEvent(t, kitchen); ev.Type != "order.confirmed_by_payment" {
		t.Errorf("kitchen event: got %q, want order.confirmed_by_payment", ev.Type)
	}

	// After confirmation the kitchen already knows about the order; a later
	// payment is a cashier concern only.
	events.OrderPaid(order, false)
	if ev := recvEvent(t, cashier); ev.Type != "order.paid" {
		t.Errorf("store room event: got %q, want order.paid", ev.Type)
	}
	expectNoEvent(t, kitchen)
}

func TestOrderReadyNotifiesCustomers(t *testing.T) {
	h := runHub(t)
	events := NewEvents(h)
	order := paidOrder()
	order.Status = enum.OrderStatusReady

	customer := newTestClient(h, CustomerRoom(order.StoreID))
	tracker := newTestClient(h, OrderRoom(order.ID))
	h.register <- customer
	h.register <- tracker

	events.OrderReady(order)

	ev := recvEvent(t, customer)
	if ev.Type != "order.ready" {
		t.Fatalf("event type: got %q, want order.ready", ev.Type)
	}
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["order_number"] != order.OrderNumber {
		t.Errorf("order_number: got %v", payload["order_number"])
	}
	if ev := recvEvent(t, tracker); ev.Type != "order.ready" {
		t.Errorf("tracking room event: got %q, want order.ready", ev.Type)
	}
}
