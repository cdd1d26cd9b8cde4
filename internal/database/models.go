package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Order is a locally-persisted order. Status, payment status and sync status
// are plain strings constrained by CHECK constraints in the schema; the
// allowed values live in the enum package.
type Order struct {
	ID               uuid.UUID
	StoreID          uuid.UUID
	OrderSeq         int32
	OrderNumber      string
	OrderDay         pgtype.Date
	CustomerName     pgtype.Text
	CustomerPhone    pgtype.Text
	OrderType        string
	TableNumber      pgtype.Text
	Status           string
	PaymentStatus    string
	PaymentMethod    pgtype.Text
	AmountPaid       pgtype.Numeric
	SyncStatus       string
	IdempotencyKey   uuid.UUID
	RemoteID         pgtype.Text
	SyncedAt         pgtype.Timestamptz
	Subtotal         pgtype.Numeric
	TaxAmount        pgtype.Numeric
	DiscountAmount   pgtype.Numeric
	TotalAmount      pgtype.Numeric
	EstimatedMinutes int32
	ActualMinutes    pgtype.Int4
	Notes            pgtype.Text
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem is a line on an order. Unit price is a snapshot taken at order
// creation; the menu item's live price never flows back in.
type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	Name       string
	Quantity   int32
	UnitPrice  pgtype.Numeric
	TotalPrice pgtype.Numeric
	Notes      pgtype.Text
	PrepStatus string
	CreatedAt  time.Time
}

// DailySummary is the recomputed store-day aggregate row.
type DailySummary struct {
	StoreID        uuid.UUID
	Day            pgtype.Date
	OrderCount     int64
	ServedCount    int64
	CancelledCount int64
	SyncedCount    int64
	GrossSales     pgtype.Numeric
	TaxTotal       pgtype.Numeric
	UpdatedAt      time.Time
}

// User is a staff account on this terminal.
type User struct {
	ID             uuid.UUID
	StoreID        uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Pin            pgtype.Text
	Role           string
	CreatedAt      time.Time
}
