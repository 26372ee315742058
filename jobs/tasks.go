package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound email so a slow SMTP relay cannot starve
	// the default queue.
	QueueMail = "mail"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeAssignmentDigest scans for role assignments about to expire
	// and notifies tenant operators.
	TaskTypeAssignmentDigest = "rbac:assignment_digest"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// SMTPConfig locates the outbound mail relay.
type SMTPConfig struct {
	Host string
	Port int
	From string
}

// NewSendEmailHandler builds the handler for TaskTypeSendEmail. Delivery goes
// through plain SMTP; local development points at Mailpit.
func NewSendEmailHandler(logger *slog.Logger, cfg SMTPConfig) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
			cfg.From, payload.To, payload.Subject, payload.Body)
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		if err := smtp.SendMail(addr, nil, cfg.From, []string{payload.To}, []byte(msg)); err != nil {
			return fmt.Errorf("send email to %s: %w", payload.To, err)
		}
		if logger != nil {
			logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		}
		return nil
	}
}

// AssignmentDigestPayload configures one digest run.
type AssignmentDigestPayload struct {
	// WindowHours is how far ahead of now to look for expiring assignments.
	WindowHours int `json:"window_hours"`
	// NotifyEmail receives the digest summary.
	NotifyEmail string `json:"notify_email"`
}

// NewAssignmentDigestTask constructs the periodic digest task.
func NewAssignmentDigestTask(payload AssignmentDigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAssignmentDigest, data), nil
}
