package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/email"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/subscriber"
)

// Outcome is the result of one worker iteration.
type Outcome int

const (
	// TaskCompleted means a task was claimed and resolved (delivered,
	// retried, or failed permanently).
	TaskCompleted Outcome = iota
	// EmptyQueue means the queue holds no tasks at all.
	EmptyQueue
	// PostponedTasks means the queue has rows but none is currently
	// eligible or unlocked.
	PostponedTasks
)

// attemptResult tags the outcome of a single delivery attempt. Dispatch is
// on this tag, never on error types.
type attemptResult int

const (
	delivered attemptResult = iota
	permanentlyInvalid
	transientFailure
)

// Config holds the worker's retry and backoff policy.
type Config struct {
	// MaxRetries bounds transient retries; total attempts per subscriber
	// are MaxRetries+1.
	MaxRetries int
	// RetryBackoff is added to now() when a task is postponed after a
	// transient failure.
	RetryBackoff time.Duration
	// EmptyQueueSleep is the fixed sleep when the queue is drained.
	EmptyQueueSleep time.Duration
	// PostponedFloor and PostponedCap bound the adaptive sleep used when
	// tasks exist but none is eligible. The interval multiplies by
	// postponedFactor on each consecutive postponed iteration.
	PostponedFloor time.Duration
	PostponedCap   time.Duration
	// InfraErrorSleep is the fixed sleep after an infrastructure error
	// (connection loss, failed transaction) before retrying the claim cycle.
	InfraErrorSleep time.Duration
}

const postponedFactor = 10

// Worker drives the delivery queue to empty. Run loops forever until the
// context is cancelled; multiple workers may run against the same database.
type Worker struct {
	queue       *Queue
	issues      *issue.Store
	subscribers *subscriber.Repository
	client      email.Client
	cfg         Config
	log         zerolog.Logger
}

// NewWorker creates a delivery worker.
func NewWorker(
	queue *Queue,
	issues *issue.Store,
	subscribers *subscriber.Repository,
	client email.Client,
	cfg Config,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		queue:       queue,
		issues:      issues,
		subscribers: subscribers,
		client:      client,
		cfg:         cfg,
		log:         log,
	}
}

// Run executes the worker loop until ctx is cancelled. Backoff policy:
//   - EmptyQueue: sleep EmptyQueueSleep, reset the adaptive interval.
//   - PostponedTasks: sleep the adaptive interval, then multiply it by
//     postponedFactor up to PostponedCap.
//   - TaskCompleted: loop immediately, reset the adaptive interval.
//   - infrastructure error: sleep InfraErrorSleep, reset, continue.
//
// A transaction open at cancellation is rolled back by the store, so the
// claimed task is picked up again by the next worker with no extra retry
// penalty.
func (w *Worker) Run(ctx context.Context) error {
	postponedSleep := w.cfg.PostponedFloor

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("delivery worker stopping")
			return ctx.Err()
		}

		outcome, err := w.tryExecuteTask(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("delivery cycle failed, backing off")
			if !sleepCtx(ctx, w.cfg.InfraErrorSleep) {
				continue
			}
			postponedSleep = w.cfg.PostponedFloor

		case outcome == EmptyQueue:
			sleepCtx(ctx, w.cfg.EmptyQueueSleep)
			postponedSleep = w.cfg.PostponedFloor

		case outcome == PostponedTasks:
			sleepCtx(ctx, postponedSleep)
			if postponedSleep < w.cfg.PostponedCap {
				postponedSleep *= postponedFactor
				if postponedSleep > w.cfg.PostponedCap {
					postponedSleep = w.cfg.PostponedCap
				}
			}

		case outcome == TaskCompleted:
			postponedSleep = w.cfg.PostponedFloor
		}
	}
}

// tryExecuteTask claims one task and resolves it. Errors returned here are
// infrastructure errors; delivery failures are resolved locally and still
// count as TaskCompleted.
func (w *Worker) tryExecuteTask(ctx context.Context) (Outcome, error) {
	claim, err := w.queue.Dequeue(ctx)
	if err != nil {
		return 0, err
	}
	if claim == nil {
		depth, err := w.queue.Depth(ctx)
		if err != nil {
			return 0, err
		}
		metrics.QueueDepth.Set(float64(depth))
		if depth == 0 {
			return EmptyQueue, nil
		}
		return PostponedTasks, nil
	}

	log := w.log.With().
		Stringer("newsletter_issue_id", claim.IssueID).
		Stringer("subscriber_id", claim.SubscriberID).
		Int("n_retries", claim.RetryCount).
		Logger()

	timer := prometheus.NewTimer(metrics.DeliveryAttemptDuration)
	defer timer.ObserveDuration()

	result, err := w.attemptDelivery(ctx, claim, log)
	if err != nil {
		// Claim/bookkeeping path failed before an outcome could be
		// judged. Release the row for the next cycle.
		_ = claim.Rollback(ctx)
		return 0, err
	}

	switch result {
	case delivered:
		if err := claim.Succeed(ctx); err != nil {
			return 0, err
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("delivered").Inc()

	case permanentlyInvalid:
		log.Error().Msg("skipping a confirmed subscriber, their stored contact details are invalid")
		if err := claim.FailPermanently(ctx); err != nil {
			return 0, err
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("failed_permanently").Inc()

	case transientFailure:
		if claim.RetryCount >= w.cfg.MaxRetries {
			log.Error().Msg("failed to deliver issue to a confirmed subscriber, retry budget exhausted")
			if err := claim.FailPermanently(ctx); err != nil {
				return 0, err
			}
			metrics.DeliveryAttemptsTotal.WithLabelValues("failed_permanently").Inc()
		} else {
			log.Warn().Msg("transient delivery failure, task postponed")
			if err := claim.Retry(ctx, w.cfg.RetryBackoff); err != nil {
				return 0, err
			}
			metrics.DeliveryAttemptsTotal.WithLabelValues("retried").Inc()
		}
	}

	return TaskCompleted, nil
}

// attemptDelivery loads the subscriber and issue, validates the stored
// contact details, and sends the email. It returns a tagged result for
// resolvable outcomes and an error only for infrastructure failures.
func (w *Worker) attemptDelivery(ctx context.Context, claim *Claim, log zerolog.Logger) (attemptResult, error) {
	sub, err := w.subscribers.Get(ctx, claim.SubscriberID)
	if err != nil {
		if errors.Is(err, subscriber.ErrNotFound) {
			// The subscriber row is gone (unsubscribed after enqueue).
			// Nothing can ever be delivered to this task.
			return permanentlyInvalid, nil
		}
		return 0, err
	}

	addr, err := subscriber.ParseEmail(sub.Email)
	if err != nil {
		log.Error().Err(err).Msg("stored subscriber email is invalid")
		return permanentlyInvalid, nil
	}
	name, err := subscriber.ParseName(sub.Name)
	if err != nil {
		log.Error().Err(err).Msg("stored subscriber name is invalid")
		return permanentlyInvalid, nil
	}

	content, err := w.issues.Get(ctx, claim.IssueID)
	if err != nil {
		return 0, err
	}

	msg := &email.Message{
		To:       addr,
		ToName:   name,
		Subject:  content.Title,
		HTMLBody: content.HTMLContent,
		TextBody: content.TextContent,
	}
	if err := w.client.Send(ctx, msg); err != nil {
		// Every transport error is transient; permanence is judged only
		// from stored subscriber data.
		log.Warn().Err(err).Msg("email transport error")
		return transientFailure, nil
	}

	return delivered, nil
}

// sleepCtx sleeps for d or until ctx is cancelled. It reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
