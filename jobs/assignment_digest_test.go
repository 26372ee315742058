package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/courtside-hq/courtside/internal/jobs"
	"github.com/courtside-hq/courtside/internal/rbac"
	_ "github.com/courtside-hq/courtside/testing"
)

type stubLister struct {
	assignments []rbac.UserRole
	err         error
	from, until time.Time
}

func (s *stubLister) ListExpiringAssignments(_ context.Context, from, until time.Time) ([]rbac.UserRole, error) {
	s.from, s.until = from, until
	return s.assignments, s.err
}

type stubMailer struct {
	sent []SendEmailPayload
	err  error
}

func (s *stubMailer) EnqueueSendEmail(_ context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, payload)
	return &asynq.TaskInfo{}, nil
}

func digestTask(t *testing.T, payload AssignmentDigestPayload) *asynq.Task {
	t.Helper()
	task, err := NewAssignmentDigestTask(payload)
	require.NoError(t, err)
	return task
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssignmentDigestSendsSummary(t *testing.T) {
	exp := time.Now().UTC().Add(6 * time.Hour)
	lister := &stubLister{assignments: []rbac.UserRole{
		{UserID: uuid.New(), RoleID: uuid.New(), ExpiresAt: &exp},
		{UserID: uuid.New(), RoleID: uuid.New(), ExpiresAt: &exp},
	}}
	mailer := &stubMailer{}

	handler := AssignmentDigest(discardLogger(), lister, mailer, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := handler(context.Background(), digestTask(t, AssignmentDigestPayload{
		WindowHours: 12,
		NotifyEmail: "ops@courtside.local",
	}))
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "ops@courtside.local", mailer.sent[0].To)
	require.Contains(t, mailer.sent[0].Subject, "2 role assignment(s)")
	require.Contains(t, mailer.sent[0].Body, lister.assignments[0].UserID.String())

	require.WithinDuration(t, time.Now().UTC().Add(12*time.Hour), lister.until, time.Minute)
}

func TestAssignmentDigestDefaultWindow(t *testing.T) {
	lister := &stubLister{}
	handler := AssignmentDigest(discardLogger(), lister, &stubMailer{}, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := handler(context.Background(), digestTask(t, AssignmentDigestPayload{}))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), lister.until, time.Minute)
}

func TestAssignmentDigestNothingExpiring(t *testing.T) {
	mailer := &stubMailer{}
	handler := AssignmentDigest(discardLogger(), &stubLister{}, mailer, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := handler(context.Background(), digestTask(t, AssignmentDigestPayload{NotifyEmail: "ops@courtside.local"}))
	require.NoError(t, err)
	require.Empty(t, mailer.sent, "no email when nothing expires")
}

func TestAssignmentDigestNoNotifyAddress(t *testing.T) {
	exp := time.Now().UTC().Add(time.Hour)
	lister := &stubLister{assignments: []rbac.UserRole{{UserID: uuid.New(), RoleID: uuid.New(), ExpiresAt: &exp}}}
	mailer := &stubMailer{}

	handler := AssignmentDigest(discardLogger(), lister, mailer, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := handler(context.Background(), digestTask(t, AssignmentDigestPayload{WindowHours: 2}))
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestAssignmentDigestListerFailure(t *testing.T) {
	lister := &stubLister{err: errors.New("connection refused")}
	handler := AssignmentDigest(discardLogger(), lister, &stubMailer{}, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := handler(context.Background(), digestTask(t, AssignmentDigestPayload{}))
	require.Error(t, err, "lister failures must surface so the queue retries")
}

func TestAssignmentDigestBadPayloadSkipsRetry(t *testing.T) {
	handler := AssignmentDigest(discardLogger(), &stubLister{}, &stubMailer{}, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task := asynq.NewTask(TaskTypeAssignmentDigest, []byte("{not json"))
	err := handler(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
