package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInProgress is returned when a concurrent request holds the same key and
// has not committed its response within the polling window. Callers should
// surface a retry-later response; they must never start a second fan-out.
var ErrInProgress = errors.New("an identical request is still being processed")

// StoredResponse is an HTTP response snapshot persisted for idempotent
// replay: same status, headers, and body bytes as the original.
type StoredResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// NextAction tells the publish handler how to proceed after key acquisition.
// Exactly one of Tx and Saved is set: Tx when this request won the insert
// race and must do the work (finishing via SaveResponse), Saved when a
// completed response exists and must be replayed verbatim.
type NextAction struct {
	Tx    pgx.Tx
	Saved *StoredResponse
}

const (
	pollInterval = 100 * time.Millisecond
	pollBudget   = 5 * time.Second
)

// Store persists (user, key) -> response records backing idempotent publish.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// TryProcessing acquires the idempotency key for a user. A conditional
// insert races safely against concurrent duplicates:
//   - insert wins: the caller receives an open transaction and must complete
//     the record with SaveResponse, making key completion atomic with the
//     caller's own writes;
//   - a completed record exists: its response is returned for replay;
//   - an in-progress record exists: poll briefly for the winner's commit,
//     then give up with ErrInProgress.
func (s *Store) TryProcessing(ctx context.Context, userID uuid.UUID, key Key) (*NextAction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin idempotency transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING`,
		userID, key.String())
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("insert idempotency record: %w", err)
	}

	if tag.RowsAffected() > 0 {
		return &NextAction{Tx: tx}, nil
	}
	_ = tx.Rollback(ctx)

	deadline := time.Now().Add(pollBudget)
	for {
		saved, err := s.getSavedResponse(ctx, userID, key)
		if err == nil {
			return &NextAction{Saved: saved}, nil
		}
		if !errors.Is(err, errNotCompleted) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrInProgress
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// SaveResponse completes the in-progress record with the response snapshot
// and commits the transaction handed out by TryProcessing. Everything the
// caller wrote on that transaction commits atomically with the record.
func (s *Store) SaveResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key Key, resp *StoredResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("encode response headers: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE idempotency
		SET response_status_code = $3,
		    response_headers = $4,
		    response_body = $5
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key.String(), int16(resp.StatusCode), headers, resp.Body)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if tag.RowsAffected() != 1 {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("idempotency record for user %s vanished before completion", userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit idempotency response: %w", err)
	}
	return nil
}

// errNotCompleted distinguishes an in-progress record from a storage error.
var errNotCompleted = errors.New("idempotency record not completed")

func (s *Store) getSavedResponse(ctx context.Context, userID uuid.UUID, key Key) (*StoredResponse, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key.String())

	var status *int16
	var headerBytes, body []byte
	if err := row.Scan(&status, &headerBytes, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The winner rolled back (e.g. its fan-out failed); the
			// key is free again but this request lost the race.
			return nil, errNotCompleted
		}
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	if status == nil {
		return nil, errNotCompleted
	}

	headers := http.Header{}
	if len(headerBytes) > 0 {
		if err := json.Unmarshal(headerBytes, &headers); err != nil {
			return nil, fmt.Errorf("decode response headers: %w", err)
		}
	}

	return &StoredResponse{
		StatusCode: int(*status),
		Headers:    headers,
		Body:       body,
	}, nil
}
