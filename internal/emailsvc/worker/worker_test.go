package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
	"github.com/odiseo-io/email-service/internal/emailsvc/models"
	"github.com/odiseo-io/email-service/internal/emailsvc/transport"
)

type fakeQueue struct {
	mu sync.Mutex

	leaseRows  []*models.Email
	leaseErr   error
	leaseCalls int

	sent     []int64
	failed   []int64
	retried  []int64
	cleanups int
}

func (q *fakeQueue) Lease(ctx context.Context, limit int, leaseTimeout time.Duration) ([]*models.Email, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.leaseCalls++
	if q.leaseCalls > 1 {
		return nil, nil
	}
	return q.leaseRows, q.leaseErr
}

func (q *fakeQueue) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, id)
	return nil
}

func (q *fakeQueue) ScheduleRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, id)
	return nil
}

func (q *fakeQueue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanups++
	return 0, nil
}

type fakeTransport struct {
	mu       sync.Mutex
	sendErr  error
	sent     []transport.Message
	validate error
	closed   bool
}

func (t *fakeTransport) Send(ctx context.Context, msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Validate(ctx context.Context) error { return t.validate }
func (t *fakeTransport) Close() error                       { t.closed = true; return nil }

type fakeRenderer struct {
	htmlErr error
	textErr error
}

func (r *fakeRenderer) RenderHTML(emailType models.Type, data map[string]any) (string, error) {
	if r.htmlErr != nil {
		return "", r.htmlErr
	}
	return "<p>rendered</p>", nil
}

func (r *fakeRenderer) RenderText(emailType models.Type, locale string, data map[string]any) (string, error) {
	if r.textErr != nil {
		return "", r.textErr
	}
	return "rendered", nil
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval:     time.Hour, // won't fire again during the test
		BatchSize:        10,
		Concurrency:      2,
		RetryMaxAttempts: 3,
		RetryBackoff:     300 * time.Second,
		LeaseTimeoutMult: 10,
	}
}

func TestProcessBatch_MarksSentOnSuccess(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{ID: 1, Type: models.TypeTransactional, BodyHTML: "<p>hi</p>"}}}
	tr := &fakeTransport{}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Equal(t, []int64{1}, q.sent)
	require.Empty(t, q.failed)
	require.Empty(t, q.retried)
	require.Equal(t, int64(1), w.processed.Load())
}

func TestProcessBatch_RendersWhenTemplateContextPresent(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{
		ID: 1, Type: models.TypeBookingCreated,
		TemplateContext: models.JSONContext{"customer_name": "Jane"},
	}}}
	tr := &fakeTransport{}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Len(t, tr.sent, 1)
	require.Equal(t, "<p>rendered</p>", tr.sent[0].BodyHTML)
	require.Equal(t, "rendered", tr.sent[0].BodyText)
	require.Equal(t, []int64{1}, q.sent)
}

func TestProcessBatch_SchedulesRetryWithinMaxRetries(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{ID: 5, Type: models.TypeTransactional, BodyHTML: "<p>hi</p>", RetryCount: 0, MaxRetries: 3}}}
	tr := &fakeTransport{sendErr: errors.New("connection refused")}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Equal(t, []int64{5}, q.retried)
	require.Empty(t, q.failed)
	require.Equal(t, int64(1), w.retried.Load())
}

func TestProcessBatch_MarksFailedWhenRetriesExhaustedAndNotTransient(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{ID: 9, Type: models.TypeTransactional, BodyHTML: "<p>hi</p>", RetryCount: 3, MaxRetries: 3}}}
	tr := &fakeTransport{sendErr: errors.New("invalid recipient address")}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Equal(t, []int64{9}, q.failed)
	require.Empty(t, q.retried)
	require.Equal(t, int64(1), w.failed.Load())
}

func TestProcessBatch_HTMLRenderFailureIsMarkedFailedNotRetried(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{
		ID: 2, Type: models.TypeBookingCreated, RetryCount: 0, MaxRetries: 3,
		TemplateContext: models.JSONContext{"customer_name": "Jane"},
	}}}
	tr := &fakeTransport{}
	w := New(q, tr, &fakeRenderer{htmlErr: errs.Template("template not found", nil, "booking_created.html")}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Empty(t, tr.sent, "transport must not be called when rendering fails")
	require.Equal(t, []int64{2}, q.failed, "a template error recurs on every attempt, so it must fail permanently even with retries remaining")
	require.Empty(t, q.retried)
	require.Equal(t, int64(1), w.failed.Load())
}

func TestProcessBatch_TextRenderFailureIsMarkedFailedNotRetried(t *testing.T) {
	q := &fakeQueue{leaseRows: []*models.Email{{
		ID: 3, Type: models.TypeBookingCreated, RetryCount: 0, MaxRetries: 3,
		TemplateContext: models.JSONContext{"customer_name": "Jane"},
	}}}
	tr := &fakeTransport{}
	w := New(q, tr, &fakeRenderer{textErr: errs.Template("failed to parse template", nil, "booking_created.txt")}, testWorkerConfig())

	w.processBatch(context.Background(), time.Minute)

	require.Empty(t, tr.sent, "transport must not be called when rendering fails")
	require.Equal(t, []int64{3}, q.failed)
	require.Empty(t, q.retried)
}

func TestRun_ValidatesTransportBeforeLooping(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{validate: errors.New("smtp unreachable")}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	err := w.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, q.leaseCalls, "Run must not lease when SMTP validation fails")
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	w := New(q, tr, &fakeRenderer{}, testWorkerConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
