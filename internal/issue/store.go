package issue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/newsletter/internal/subscriber"
)

// ErrNotFound is returned when an issue id has no matching row.
var ErrNotFound = errors.New("newsletter issue not found")

// Content holds the renderable parts of a newsletter issue, as needed by the
// delivery worker.
type Content struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Issue is a published newsletter issue with its delivery counters. The
// counters are nullable in the schema; rows written by this service always
// populate them.
type Issue struct {
	ID                   uuid.UUID
	Title                string
	TextContent          string
	HTMLContent          string
	PublishedAt          time.Time
	SubscribersAtPublish *int32
	DeliveredCount       *int32
	FailedCount          *int32
}

// Store persists newsletter issues and their delivery fan-out.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateWithFanOut inserts a newsletter issue and enqueues one delivery task
// per currently-confirmed subscriber, all on the caller's transaction. The
// returned count is the subscriber snapshot taken at enqueue time; it is also
// persisted as subscribers_at_publish, with delivered and failed counters
// starting at zero.
func (s *Store) CreateWithFanOut(ctx context.Context, tx pgx.Tx, title, htmlContent, textContent string) (uuid.UUID, int64, error) {
	issueID := uuid.New()

	_, err := tx.Exec(ctx, `
		INSERT INTO newsletter_issues
			(newsletter_issue_id, title, text_content, html_content, published_at,
			 subscribers_at_publish, delivered_count, failed_count)
		VALUES ($1, $2, $3, $4, now(), 0, 0, 0)`,
		issueID, title, textContent, htmlContent)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("insert newsletter issue: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO issue_delivery_queue
			(newsletter_issue_id, subscriber_id, n_retries, execute_after)
		SELECT $1, id, 0, now()
		FROM subscriptions
		WHERE status = $2`,
		issueID, subscriber.StatusConfirmed)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	enqueued := tag.RowsAffected()

	_, err = tx.Exec(ctx, `
		UPDATE newsletter_issues
		SET subscribers_at_publish = $2
		WHERE newsletter_issue_id = $1`,
		issueID, enqueued)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("record subscriber snapshot: %w", err)
	}

	return issueID, enqueued, nil
}

// Get returns the content of a single issue.
func (s *Store) Get(ctx context.Context, issueID uuid.UUID) (*Content, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT title, text_content, html_content
		FROM newsletter_issues
		WHERE newsletter_issue_id = $1`, issueID)

	var c Content
	if err := row.Scan(&c.Title, &c.TextContent, &c.HTMLContent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	return &c, nil
}

// List returns all issues with their delivery counters, newest first.
func (s *Store) List(ctx context.Context) ([]Issue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT newsletter_issue_id, title, text_content, html_content, published_at,
		       subscribers_at_publish, delivered_count, failed_count
		FROM newsletter_issues
		ORDER BY published_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.Title, &i.TextContent, &i.HTMLContent, &i.PublishedAt,
			&i.SubscribersAtPublish, &i.DeliveredCount, &i.FailedCount); err != nil {
			return nil, fmt.Errorf("scan issue row: %w", err)
		}
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}
