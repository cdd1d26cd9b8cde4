package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, store_id, full_name, email, hashed_password, pin, role, created_at`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u User
	err := q.db.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.StoreID, &u.FullName, &u.Email, &u.HashedPassword, &u.Pin, &u.Role, &u.CreatedAt,
	)
	return u, err
}

type GetUserByStoreAndPinParams struct {
	StoreID uuid.UUID
	Pin     pgtype.Text
}

func (q *Queries) GetUserByStoreAndPin(ctx context.Context, arg GetUserByStoreAndPinParams) (User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE store_id = $1 AND pin = $2`
	var u User
	err := q.db.QueryRow(ctx, query, arg.StoreID, arg.Pin).Scan(
		&u.ID, &u.StoreID, &u.FullName, &u.Email, &u.HashedPassword, &u.Pin, &u.Role, &u.CreatedAt,
	)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u User
	err := q.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.StoreID, &u.FullName, &u.Email, &u.HashedPassword, &u.Pin, &u.Role, &u.CreatedAt,
	)
	return u, err
}
