package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/metrics"
)

// issueCreator is the slice of the issue store the publish handler needs.
type issueCreator interface {
	CreateWithFanOut(ctx context.Context, tx pgx.Tx, title, htmlContent, textContent string) (uuid.UUID, int64, error)
}

// idempotencyStore is the slice of the idempotency store the publish handler needs.
type idempotencyStore interface {
	TryProcessing(ctx context.Context, userID uuid.UUID, key idempotency.Key) (*idempotency.NextAction, error)
	SaveResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.StoredResponse) error
}

// PublishRequest is the body of POST /api/v1/newsletters.
type PublishRequest struct {
	Title          string `json:"title"`
	HTMLContent    string `json:"html_content"`
	TextContent    string `json:"text_content"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PublishResponse is the success body; it is also the payload persisted for
// idempotent replay.
type PublishResponse struct {
	NewsletterIssueID    uuid.UUID `json:"newsletter_issue_id"`
	SubscribersAtPublish int64     `json:"subscribers_at_publish"`
}

// PublishNewsletterHandler validates the request, establishes idempotency,
// atomically persists the issue with its delivery fan-out, and returns a
// response that is cached for byte-identical replay of retried submissions.
func PublishNewsletterHandler(idem idempotencyStore, issues issueCreator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			metrics.PublishRequestsTotal.WithLabelValues("rejected").Inc()
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		// Validation happens before any storage access.
		if req.Title == "" {
			metrics.PublishRequestsTotal.WithLabelValues("rejected").Inc()
			respondFieldError(w, "title", "you must set a title for your newsletter")
			return
		}
		if req.HTMLContent == "" && req.TextContent == "" {
			metrics.PublishRequestsTotal.WithLabelValues("rejected").Inc()
			respondFieldError(w, "content", "you must set content for your newsletter")
			return
		}
		key, err := idempotency.ParseKey(req.IdempotencyKey)
		if err != nil {
			metrics.PublishRequestsTotal.WithLabelValues("rejected").Inc()
			respondFieldError(w, "idempotency_key", "idempotency key must be a valid UUID")
			return
		}

		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		action, err := idem.TryProcessing(r.Context(), userID, key)
		if err != nil {
			if errors.Is(err, idempotency.ErrInProgress) {
				respondError(w, http.StatusConflict, "an identical request is being processed, retry shortly")
				return
			}
			metrics.PublishRequestsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("idempotency acquisition failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if action.Saved != nil {
			metrics.PublishRequestsTotal.WithLabelValues("replayed").Inc()
			writeStoredResponse(w, action.Saved)
			return
		}

		issueID, subscriberCount, err := issues.CreateWithFanOut(
			r.Context(), action.Tx, req.Title, req.HTMLContent, req.TextContent)
		if err != nil {
			_ = action.Tx.Rollback(r.Context())
			metrics.PublishRequestsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("issue creation and fan-out failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		body, err := json.Marshal(PublishResponse{
			NewsletterIssueID:    issueID,
			SubscribersAtPublish: subscriberCount,
		})
		if err != nil {
			_ = action.Tx.Rollback(r.Context())
			metrics.PublishRequestsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("encoding publish response failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		stored := &idempotency.StoredResponse{
			StatusCode: http.StatusCreated,
			Headers:    http.Header{"Content-Type": []string{"application/json"}},
			Body:       body,
		}
		// Committing the transaction makes issue creation, fan-out, and
		// idempotency completion a single atomic unit.
		if err := idem.SaveResponse(r.Context(), action.Tx, userID, key, stored); err != nil {
			metrics.PublishRequestsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("saving idempotency response failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		metrics.PublishRequestsTotal.WithLabelValues("accepted").Inc()
		log.Info().
			Stringer("newsletter_issue_id", issueID).
			Int64("subscribers_at_publish", subscriberCount).
			Msg("newsletter issue published")
		writeStoredResponse(w, stored)
	}
}

// writeStoredResponse replays a response snapshot verbatim: same status,
// headers, and body bytes as the original.
func writeStoredResponse(w http.ResponseWriter, resp *idempotency.StoredResponse) {
	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
