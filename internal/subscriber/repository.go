package subscriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a subscriber id has no matching row.
var ErrNotFound = errors.New("subscriber not found")

// Stored holds a subscriber's persisted contact details as stored, before
// any validation.
type Stored struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// Repository reads subscriber rows from the subscriptions table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the stored contact details for a subscriber id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Stored, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name FROM subscriptions WHERE id = $1`, id)

	var s Stored
	if err := row.Scan(&s.ID, &s.Email, &s.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscriber %s: %w", id, err)
	}
	return &s, nil
}

// CountConfirmed returns the number of confirmed subscribers.
func (r *Repository) CountConfirmed(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM subscriptions WHERE status = $1`, StatusConfirmed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count confirmed subscribers: %w", err)
	}
	return count, nil
}
