// Package worker drives the delivery loop: lease a batch from the queue,
// render and send each row with bounded concurrency, and finalise it as
// sent, retried, or permanently failed.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
	"github.com/odiseo-io/email-service/internal/emailsvc/models"
	"github.com/odiseo-io/email-service/internal/emailsvc/transport"
	"github.com/odiseo-io/email-service/pkg/logger"
)

// cleanupInterval is fixed rather than configurable: the retention horizon
// itself (EMAIL_QUEUE_RETENTION_DAYS) is the knob operators need.
const cleanupInterval = 24 * time.Hour

// Queue is the subset of *queue.Store the worker drives a leased row
// through.
type Queue interface {
	Lease(ctx context.Context, limit int, leaseTimeout time.Duration) ([]*models.Email, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Transport is the subset of *transport.SMTP the worker needs.
type Transport interface {
	Send(ctx context.Context, msg transport.Message) error
	Validate(ctx context.Context) error
	Close() error
}

// Renderer is the subset of *render.Renderer the worker needs.
type Renderer interface {
	RenderHTML(emailType models.Type, data map[string]any) (string, error)
	RenderText(emailType models.Type, locale string, data map[string]any) (string, error)
}

// Worker owns scheduling, concurrency, and finalisation policy for one
// poll/lease/send loop.
type Worker struct {
	queue     Queue
	transport Transport
	renderer  Renderer
	cfg       config.WorkerConfig

	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// New builds a Worker. Validate the SMTP transport and call Run once
// configuration is otherwise ready.
func New(queue Queue, tr Transport, renderer Renderer, cfg config.WorkerConfig) *Worker {
	return &Worker{queue: queue, transport: tr, renderer: renderer, cfg: cfg}
}

// Run validates the SMTP transport, then polls, leases, and processes
// batches until ctx is cancelled. It returns after the in-flight batch (if
// any) has drained.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.transport.Validate(ctx); err != nil {
		return err
	}

	leaseTimeout := w.cfg.PollInterval * time.Duration(w.cfg.LeaseTimeoutMult)
	logger.Logger.Info("worker starting",
		"poll_interval", w.cfg.PollInterval,
		"batch_size", w.cfg.BatchSize,
		"concurrency", w.cfg.Concurrency,
		"lease_timeout", leaseTimeout)

	pollTimer := time.NewTimer(0)
	defer pollTimer.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logStats()
			return nil
		case <-pollTimer.C:
			w.processBatch(ctx, leaseTimeout)
			pollTimer.Reset(w.cfg.PollInterval)
		case <-cleanupTicker.C:
			w.performCleanup(ctx)
		}
	}
}

func (w *Worker) logStats() {
	logger.Logger.Info("worker stopped",
		"processed", w.processed.Load(),
		"retried", w.retried.Load(),
		"failed", w.failed.Load())
}

// processBatch leases up to BatchSize rows and fans them out across a
// Concurrency-sized semaphore. A panic in any single task is recovered so
// it cannot take down the rest of the batch.
func (w *Worker) processBatch(ctx context.Context, leaseTimeout time.Duration) {
	rows, err := w.queue.Lease(ctx, w.cfg.BatchSize, leaseTimeout)
	if err != nil {
		logger.Logger.Error("failed to lease emails", "error", err.Error())
		return
	}
	if len(rows) == 0 {
		return
	}

	logger.Logger.Debug("leased batch", "count", len(rows))

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(row *models.Email) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logger.Logger.Error("panic processing email", "id", row.ID, "panic", r)
				}
			}()
			w.processEmail(ctx, row)
		}(row)
	}
	wg.Wait()
}

// processEmail renders (if needed), sends, and finalises a single leased
// row.
func (w *Worker) processEmail(ctx context.Context, row *models.Email) {
	htmlBody, textBody := row.BodyHTML, row.BodyText

	if row.HasTemplateContext() {
		html, err := w.renderer.RenderHTML(row.Type, row.TemplateContext)
		if err != nil {
			w.finalizeTemplateFailure(ctx, row, err)
			return
		}
		text, err := w.renderer.RenderText(row.Type, row.Locale, row.TemplateContext)
		if err != nil {
			w.finalizeTemplateFailure(ctx, row, err)
			return
		}
		htmlBody, textBody = html, text
	}

	err := w.transport.Send(ctx, transport.Message{
		RecipientEmail: row.RecipientEmail,
		RecipientName:  row.RecipientName,
		Subject:        row.Subject,
		BodyHTML:       htmlBody,
		BodyText:       textBody,
	})
	if err != nil {
		w.finalizeFailure(ctx, row, err)
		return
	}

	if err := w.queue.MarkSent(ctx, row.ID, time.Now()); err != nil {
		logger.Logger.Error("failed to mark email sent", "id", row.ID, "error", err.Error())
	}
	w.processed.Add(1)
	logger.Logger.Info("email sent", "id", row.ID, "type", string(row.Type))
}

// finalizeTemplateFailure always permanently fails row: a rendering error
// (missing template, bad template syntax, execution failure against the
// given context) will recur identically on every future attempt, so
// retrying it only burns attempts and delivery latency on an error that can
// never self-heal.
func (w *Worker) finalizeTemplateFailure(ctx context.Context, row *models.Email, cause error) {
	if err := w.queue.MarkFailed(ctx, row.ID, cause.Error()); err != nil {
		logger.Logger.Error("failed to mark email failed", "id", row.ID, "error", err.Error())
	}
	w.failed.Add(1)
	templateName, _ := errs.TemplateName(cause)
	logger.Logger.Error("email permanently failed: template error",
		"id", row.ID, "template", templateName, "error", cause.Error())
}

// finalizeFailure schedules a retry when the error is transient and row has
// attempts left (retry_count < max_retries); a permanent error, or any error
// once the retries are used up, fails row permanently.
func (w *Worker) finalizeFailure(ctx context.Context, row *models.Email, cause error) {
	if row.RetryCount < row.MaxRetries && errs.IsTransient(cause) {
		if err := w.queue.ScheduleRetry(ctx, row.ID, cause.Error(), w.cfg.RetryBackoff); err != nil {
			logger.Logger.Error("failed to schedule email retry", "id", row.ID, "error", err.Error())
		}
		w.retried.Add(1)
		logger.Logger.Warn("email scheduled for retry",
			"id", row.ID, "retry_count", row.RetryCount+1, "error", cause.Error())
		return
	}

	if err := w.queue.MarkFailed(ctx, row.ID, cause.Error()); err != nil {
		logger.Logger.Error("failed to mark email failed", "id", row.ID, "error", err.Error())
	}
	w.failed.Add(1)
	logger.Logger.Error("email permanently failed", "id", row.ID, "error", cause.Error())
}

func (w *Worker) performCleanup(ctx context.Context) {
	retention := time.Duration(w.cfg.QueueRetentionDays) * 24 * time.Hour
	n, err := w.queue.Cleanup(ctx, retention)
	if err != nil {
		logger.Logger.Error("failed to clean up old emails", "error", err.Error())
		return
	}
	if n > 0 {
		logger.Logger.Info("cleaned up old emails", "count", n)
	}
}
