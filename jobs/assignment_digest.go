package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/courtside-hq/courtside/internal/jobs"
	"github.com/courtside-hq/courtside/internal/rbac"
)

// ExpiringAssignmentLister is the subset of the authorization service the
// digest needs.
type ExpiringAssignmentLister interface {
	ListExpiringAssignments(ctx context.Context, from, until time.Time) ([]rbac.UserRole, error)
}

// EmailEnqueuer submits a notification email for async delivery.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// AssignmentDigest builds the handler for TaskTypeAssignmentDigest. It lists
// role assignments whose expiry falls inside the configured window and sends
// one summary email. Expired assignments are never revoked here: expiry is
// evaluated at check time, the digest is purely informational.
func AssignmentDigest(logger *slog.Logger, lister ExpiringAssignmentLister, mailer EmailEnqueuer, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("assignment_digest")
		var payload AssignmentDigestPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		window := time.Duration(payload.WindowHours) * time.Hour
		if window <= 0 {
			window = 24 * time.Hour
		}

		now := time.Now().UTC()
		expiring, err := lister.ListExpiringAssignments(ctx, now, now.Add(window))
		if err != nil {
			return tracker.End(fmt.Errorf("list expiring assignments: %w", err))
		}
		if len(expiring) == 0 {
			logger.Info("assignment digest: nothing expiring", slog.Duration("window", window))
			return tracker.End(nil)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d role assignment(s) expire before %s:\n\n", len(expiring), now.Add(window).Format(time.RFC3339))
		for _, ur := range expiring {
			fmt.Fprintf(&b, "- user %s role %s expires %s\n", ur.UserID, ur.RoleID, ur.ExpiresAt.Format(time.RFC3339))
		}

		logger.Info("assignment digest",
			slog.Int("expiring", len(expiring)),
			slog.Duration("window", window))

		if payload.NotifyEmail == "" || mailer == nil {
			return tracker.End(nil)
		}
		_, err = mailer.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      payload.NotifyEmail,
			Subject: fmt.Sprintf("[courtside] %d role assignment(s) expiring soon", len(expiring)),
			Body:    b.String(),
		})
		if err != nil {
			return tracker.End(fmt.Errorf("enqueue digest email: %w", err))
		}
		return tracker.End(nil)
	}
}
