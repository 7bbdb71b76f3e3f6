package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrClaimFinished is returned when a claim's outcome has already been
// recorded; a claim is single-use.
var ErrClaimFinished = errors.New("delivery claim already finished")

// Queue is the durable work table of pending (issue, subscriber) delivery
// tasks. Multiple worker processes may claim from it concurrently; row locks
// with SKIP LOCKED guarantee no task is executed by two workers at once.
type Queue struct {
	pool *pgxpool.Pool
}

// NewQueue creates a Queue backed by the given pool.
func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Claim is an in-progress task claim. It holds the open transaction from
// Dequeue; the only valid next operation is exactly one of Succeed,
// FailPermanently, Retry, or Rollback. If the process dies with the claim
// open, the store rolls the transaction back and the task becomes claimable
// again.
type Claim struct {
	IssueID      uuid.UUID
	SubscriberID uuid.UUID
	RetryCount   int
	ExecuteAfter time.Time

	tx       pgx.Tx
	finished bool
}

// Dequeue claims at most one eligible task. It begins a transaction and
// selects a row whose execute_after has passed, skipping rows locked by other
// in-flight claims. Returns nil when no eligible row exists; the caller then
// uses Depth to distinguish a drained queue from postponed or locked tasks.
func (q *Queue) Dequeue(ctx context.Context) (*Claim, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT newsletter_issue_id, subscriber_id, n_retries, execute_after
		FROM issue_delivery_queue
		WHERE now() > execute_after
		FOR UPDATE
		SKIP LOCKED
		LIMIT 1`)

	var c Claim
	var retries int16
	if err := row.Scan(&c.IssueID, &c.SubscriberID, &retries, &c.ExecuteAfter); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select delivery task: %w", err)
	}
	if retries < 0 {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("task (%s, %s) has negative retry count %d", c.IssueID, c.SubscriberID, retries)
	}

	c.RetryCount = int(retries)
	c.tx = tx
	return &c, nil
}

// Depth counts all queued tasks. It uses a non-locking count so it sees
// rows that are currently claimed or not yet eligible; zero means the queue
// is fully drained.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM issue_delivery_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count delivery tasks: %w", err)
	}
	return count, nil
}

// Succeed records a delivered outcome: it increments the issue's
// delivered_count under a row lock, deletes the task, and commits.
func (c *Claim) Succeed(ctx context.Context) error {
	return c.finish(ctx, "delivered_count")
}

// FailPermanently records a permanent failure: it increments the issue's
// failed_count under a row lock, deletes the task, and commits. The task is
// never retried.
func (c *Claim) FailPermanently(ctx context.Context) error {
	return c.finish(ctx, "failed_count")
}

// Retry records a transient failure: it bumps the retry count, pushes
// execute_after to now plus backoff, and commits. The task stays queued.
func (c *Claim) Retry(ctx context.Context, backoff time.Duration) error {
	if c.finished {
		return ErrClaimFinished
	}
	c.finished = true

	_, err := c.tx.Exec(ctx, `
		UPDATE issue_delivery_queue
		SET n_retries = $3, execute_after = now() + make_interval(secs => $4)
		WHERE newsletter_issue_id = $1 AND subscriber_id = $2`,
		c.IssueID, c.SubscriberID, int16(c.RetryCount+1), backoff.Seconds())
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("postpone delivery task: %w", err)
	}

	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit task postponement: %w", err)
	}
	return nil
}

// Rollback abandons the claim without recording an outcome. The task's retry
// count is untouched and the row becomes claimable immediately.
func (c *Claim) Rollback(ctx context.Context) error {
	if c.finished {
		return ErrClaimFinished
	}
	c.finished = true
	return c.tx.Rollback(ctx)
}

// finish resolves the claim terminally: the named issue counter is
// incremented under a FOR UPDATE lock on the issue row (serializing
// concurrent completions of the same issue), the task row is deleted, and
// the transaction commits. The counter increment and the delete are atomic,
// which is what makes completion exactly-once per (issue, subscriber) pair.
func (c *Claim) finish(ctx context.Context, counter string) error {
	if c.finished {
		return ErrClaimFinished
	}
	c.finished = true

	var current int32
	query := fmt.Sprintf(`
		SELECT COALESCE(%s, 0)
		FROM newsletter_issues
		WHERE newsletter_issue_id = $1
		FOR UPDATE`, counter)
	if err := c.tx.QueryRow(ctx, query, c.IssueID).Scan(&current); err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("lock issue counter %s: %w", counter, err)
	}

	query = fmt.Sprintf(`
		UPDATE newsletter_issues
		SET %s = $2
		WHERE newsletter_issue_id = $1`, counter)
	if _, err := c.tx.Exec(ctx, query, c.IssueID, current+1); err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("increment issue counter %s: %w", counter, err)
	}

	_, err := c.tx.Exec(ctx, `
		DELETE FROM issue_delivery_queue
		WHERE newsletter_issue_id = $1 AND subscriber_id = $2`,
		c.IssueID, c.SubscriberID)
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("delete delivery task: %w", err)
	}

	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit task completion: %w", err)
	}
	return nil
}
