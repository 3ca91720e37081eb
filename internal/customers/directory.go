// Package customers is the read-only view of the customer profile module.
// The ledger only needs to know whether a customer exists and its display name.
package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the subset of the profile the ledger displays.
type Customer struct {
	ID       int64
	Name     string
	IsActive bool
}

// Directory looks up customer profiles.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Get returns the customer profile.
func (d *Directory) Get(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := d.pool.QueryRow(ctx, `SELECT id, name, is_active FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

// Exists reports whether the customer id is valid.
func (d *Directory) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
