// Package queue implements the Postgres-backed durable queue: enqueueing,
// crash-safe leasing via SELECT ... FOR UPDATE SKIP LOCKED, and the
// outcome transitions (sent, retry, permanent failure) a worker drives a
// leased row through.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
	"github.com/odiseo-io/email-service/internal/emailsvc/models"
	"github.com/odiseo-io/email-service/pkg/logger"
)

// Store wraps a connection pool open against the email_queue table.
type Store struct {
	db                *sql.DB
	retryAttempts     int
	defaultLocale     string
	defaultMaxRetries int
}

// Open dials the database and applies pool sizing. Liveness is confirmed
// with a bounded number of ping attempts — a crashed Postgres restarting
// underneath a just-started process is transient, not fatal. defaultLocale
// (EMAIL_DEFAULT_LOCALE) and defaultMaxRetries (EMAIL_RETRY_MAX_ATTEMPTS)
// are used by Enqueue whenever a caller leaves the corresponding field
// unset.
func Open(ctx context.Context, cfg config.DatabaseConfig, defaultLocale string, defaultMaxRetries int) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errs.Queue("failed to open database", err, 0)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if defaultLocale == "" {
		defaultLocale = "en"
	}
	if defaultMaxRetries < 1 {
		defaultMaxRetries = models.DefaultMaxRetries
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	store := &Store{
		db:                db,
		retryAttempts:     attempts,
		defaultLocale:     defaultLocale,
		defaultMaxRetries: defaultMaxRetries,
	}

	var pingErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			return store, nil
		}
		if i < attempts-1 {
			logger.Logger.Warn("database ping failed, retrying", "attempt", i+1, "error", pingErr.Error())
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	_ = db.Close()
	return nil, errs.Queue("failed to ping database", pingErr, 0)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck confirms the database is reachable, for use by the API's
// /health endpoint.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		var ok int
		return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&ok)
	})
}

// withConn retries the operation on a transient connection error (the
// lexical rule in errs.IsTransient), giving a leased operation a second
// chance if Postgres hiccups mid-poll; it fails fast on any other error.
func (s *Store) withConn(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.IsTransient(lastErr) {
			return lastErr
		}
		if attempt < s.retryAttempts-1 {
			logger.Logger.Warn("transient database error, retrying", "attempt", attempt+1, "error", lastErr.Error())
		}
	}
	return lastErr
}

// queryRower is the subset of *sql.DB/*sql.Tx enqueueRow needs, so the same
// insert logic serves both a single retried insert and a multi-row
// transaction.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const enqueueQuery = `
	INSERT INTO email_queue (
		type, recipient_email, recipient_name, subject,
		body_html, body_text, template_context, locale,
		priority, scheduled_for, max_retries, status
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending'
	) RETURNING id
`

// enqueueRow defaults priority, max_retries, locale, and scheduled_for when
// the caller leaves them unset, inserts the row through q, and returns the
// database-assigned id.
func enqueueRow(ctx context.Context, q queryRower, in models.EnqueueInput, defaultLocale string, defaultMaxRetries int) (int64, error) {
	priority := in.Priority
	if priority == 0 {
		priority = models.DefaultPriority
	}
	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	scheduledFor := time.Now()
	if in.ScheduledFor != nil {
		scheduledFor = *in.ScheduledFor
	}
	emailType := models.NormalizeType(string(in.Type))
	locale := in.Locale
	if locale == "" {
		locale = defaultLocale
	}

	var id int64
	err := q.QueryRowContext(
		ctx, enqueueQuery,
		string(emailType), in.RecipientEmail, in.RecipientName, in.Subject,
		in.BodyHTML, in.BodyText, in.TemplateContext, locale,
		priority, scheduledFor, maxRetries,
	).Scan(&id)
	return id, err
}

// Enqueue inserts a single new row and returns its database-assigned id.
func (s *Store) Enqueue(ctx context.Context, in models.EnqueueInput) (int64, error) {
	var id int64
	err := s.withConn(ctx, func(ctx context.Context) error {
		var err error
		id, err = enqueueRow(ctx, s.db, in, s.defaultLocale, s.defaultMaxRetries)
		return err
	})
	if err != nil {
		return 0, errs.Queue("failed to enqueue email", err, 0)
	}

	logger.Logger.Info("email enqueued", "id", id, "type", string(models.NormalizeType(string(in.Type))), "recipient", in.RecipientEmail)
	return id, nil
}

// EnqueueBatch inserts every input inside a single transaction: either all
// rows are created or none are, so a request fanning out to several
// recipients (e.g. to/cc/bcc on one API call) can't leave a partial set
// enqueued for a caller that retries the whole request after an error,
// which would otherwise double-send to the recipients that did succeed.
func (s *Store) EnqueueBatch(ctx context.Context, ins []models.EnqueueInput) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Queue("failed to start enqueue transaction", err, 0)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(ins))
	for _, in := range ins {
		id, err := enqueueRow(ctx, tx, in, s.defaultLocale, s.defaultMaxRetries)
		if err != nil {
			return nil, errs.Queue("failed to enqueue email", err, 0)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Queue("failed to commit enqueue transaction", err, 0)
	}

	logger.Logger.Info("email batch enqueued", "count", len(ids))
	return ids, nil
}

// Lease atomically claims up to limit rows for processing: pending/scheduled
// rows due now, plus processing rows whose lease has gone stale (a worker
// crashed mid-send without reaching MarkSent/MarkFailed/ScheduleRetry).
// SKIP LOCKED keeps concurrent workers from blocking on each other's
// in-flight rows, and the UPDATE...RETURNING performs the claim and the
// read in one round trip so no other worker can observe the row between
// selection and transition.
func (s *Store) Lease(ctx context.Context, limit int, leaseTimeout time.Duration) ([]*models.Email, error) {
	query := `
		UPDATE email_queue
		SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE (
				status IN ('pending', 'scheduled')
				AND scheduled_for <= now()
				AND (next_retry_at IS NULL OR next_retry_at <= now())
			) OR (
				status = 'processing' AND updated_at <= $1
			)
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING
			id, type, recipient_email, recipient_name, subject,
			body_html, body_text, template_context, locale,
			status, priority, retry_count, max_retries,
			last_error, next_retry_at, scheduled_for, sent_at,
			created_at, updated_at
	`

	var items []*models.Email
	err := s.withConn(ctx, func(ctx context.Context) error {
		items = nil
		rows, err := s.db.QueryContext(ctx, query, time.Now().Add(-leaseTimeout), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := &models.Email{}
			if err := rows.Scan(
				&e.ID, &e.Type, &e.RecipientEmail, &e.RecipientName, &e.Subject,
				&e.BodyHTML, &e.BodyText, &e.TemplateContext, &e.Locale,
				&e.Status, &e.Priority, &e.RetryCount, &e.MaxRetries,
				&e.LastError, &e.NextRetryAt, &e.ScheduledFor, &e.SentAt,
				&e.CreatedAt, &e.UpdatedAt,
			); err != nil {
				return err
			}
			items = append(items, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Queue("failed to lease emails", err, 0)
	}
	return items, nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	err := s.withConn(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE email_queue SET status = 'sent', sent_at = $1, updated_at = now()
			WHERE id = $2
		`, sentAt, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
	if err != nil {
		return errs.Queue("failed to mark email sent", err, id)
	}
	return nil
}

// MarkFailed permanently fails a row: max_retries has been exhausted, or
// the caller (the worker) has otherwise decided not to retry.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	msg := errs.Truncate(errMsg, models.MaxErrorLen)
	err := s.withConn(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE email_queue
			SET status = 'failed', last_error = $1, updated_at = now()
			WHERE id = $2
		`, msg, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
	if err != nil {
		return errs.Queue("failed to mark email failed", err, id)
	}
	return nil
}

// ScheduleRetry returns a row to eligibility after backoff, incrementing
// retry_count and recording the failure that triggered the retry.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error {
	msg := errs.Truncate(errMsg, models.MaxErrorLen)
	next := time.Now().Add(backoff)
	err := s.withConn(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE email_queue
			SET status = 'scheduled',
			    retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    scheduled_for = $2,
			    updated_at = now()
			WHERE id = $3
		`, msg, next, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
	if err != nil {
		return errs.Queue("failed to schedule email retry", err, id)
	}
	return nil
}

// GetByID fetches a single row by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*models.Email, error) {
	e := &models.Email{}
	err := s.withConn(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, type, recipient_email, recipient_name, subject,
			       body_html, body_text, template_context, locale,
			       status, priority, retry_count, max_retries,
			       last_error, next_retry_at, scheduled_for, sent_at,
			       created_at, updated_at
			FROM email_queue WHERE id = $1
		`, id).Scan(
			&e.ID, &e.Type, &e.RecipientEmail, &e.RecipientName, &e.Subject,
			&e.BodyHTML, &e.BodyText, &e.TemplateContext, &e.Locale,
			&e.Status, &e.Priority, &e.RetryCount, &e.MaxRetries,
			&e.LastError, &e.NextRetryAt, &e.ScheduledFor, &e.SentAt,
			&e.CreatedAt, &e.UpdatedAt,
		)
	})
	if err == sql.ErrNoRows {
		return nil, errs.Queue(fmt.Sprintf("email %d not found", id), err, id)
	}
	if err != nil {
		return nil, errs.Queue("failed to fetch email", err, id)
	}
	return e, nil
}

// Stats returns a row count per status, for the queue status endpoint.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	stats := models.Stats{}
	err := s.withConn(ctx, func(ctx context.Context) error {
		stats = models.Stats{}
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			stats[status] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Queue("failed to get queue stats", err, 0)
	}
	return stats, nil
}

// Cleanup deletes terminal rows (sent or failed) older than retention,
// bounding table growth for a queue with no external archival process.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	var n int64
	err := s.withConn(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM email_queue
			WHERE status IN ('sent', 'failed')
			  AND updated_at < $1
		`, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errs.Queue("failed to clean up old emails", err, 0)
	}
	if n > 0 {
		logger.Logger.Info("cleaned up old emails", "count", n, "retention", retention)
	}
	return n, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
