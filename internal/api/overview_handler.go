package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/issue"
)

// issueLister is the slice of the issue store the overview handler needs.
type issueLister interface {
	List(ctx context.Context) ([]issue.Issue, error)
}

// IssueOverview is one row of the delivery overview: an issue with its
// delivery counters.
type IssueOverview struct {
	NewsletterIssueID    uuid.UUID `json:"newsletter_issue_id"`
	Title                string    `json:"title"`
	PublishedAt          time.Time `json:"published_at"`
	SubscribersAtPublish *int32    `json:"subscribers_at_publish"`
	DeliveredCount       *int32    `json:"delivered_count"`
	FailedCount          *int32    `json:"failed_count"`
}

// DeliveryOverviewHandler lists all published issues with their delivery
// counters, newest first.
func DeliveryOverviewHandler(issues issueLister, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := issues.List(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("listing issues failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		overview := make([]IssueOverview, 0, len(list))
		for _, i := range list {
			overview = append(overview, IssueOverview{
				NewsletterIssueID:    i.ID,
				Title:                i.Title,
				PublishedAt:          i.PublishedAt,
				SubscribersAtPublish: i.SubscribersAtPublish,
				DeliveredCount:       i.DeliveredCount,
				FailedCount:          i.FailedCount,
			})
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{"issues": overview})
	}
}
