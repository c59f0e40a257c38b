// Package transport owns the single outbound SMTP connection a worker's sends
// go through: dialing, STARTTLS, PLAIN auth, and connection reuse across
// consecutive sends.
//
// Message assembly uses go-mail/mail/v2 (the same library the distilled
// predecessor dialed fresh per send with); connection lifecycle uses
// net/smtp.Client directly rather than a third-party SMTP client library,
// because staying connected across sends requires issuing a bare NOOP on the
// live connection and reacting to its result, something go-mail/mail/v2's
// SendCloser does not expose (it wraps the client internally). net/smtp's
// Client already has Noop, StartTLS, Auth, Mail, Rcpt, Data and Quit, which
// is the complete set this needs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"sync"
	"time"

	"crypto/tls"

	mail "github.com/go-mail/mail/v2"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
	"github.com/odiseo-io/email-service/pkg/logger"
)

// connectionFreshness is how long an idle connection is trusted without a
// NOOP round trip first.
const connectionFreshness = 60 * time.Second

// maxSendAttempts bounds retries within a single Send call; a failure tears
// the connection down before the next attempt.
const maxSendAttempts = 2

// Message is the minimal set of fields transport needs to hand a row to
// SMTP; rendering has already happened by the time it reaches here.
type Message struct {
	RecipientEmail string
	RecipientName  string
	Subject        string
	BodyHTML       string
	BodyText       string
}

// SMTP holds one lock-protected connection, reused across Send calls. Calls
// from concurrent goroutines sharing one instance are serialised by the lock.
type SMTP struct {
	cfg config.MailConfig

	mu       sync.Mutex
	client   *smtp.Client
	lastUsed time.Time
}

// New builds a transport that will lazily dial on first Send or Validate.
func New(cfg config.MailConfig) *SMTP {
	return &SMTP{cfg: cfg}
}

// Send delivers msg, reusing the live connection if it is fresh, retrying
// once against a freshly dialed connection on failure.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		client, err := s.connectionLocked(ctx)
		if err != nil {
			lastErr = err
			s.teardownLocked()
			continue
		}
		if err := s.deliverLocked(client, msg); err != nil {
			lastErr = err
			s.teardownLocked()
			continue
		}
		return nil
	}
	return errs.Transport("failed to send email", lastErr, isTransientSendError(lastErr))
}

// isTransientSendError classifies lastErr by SMTP reply code when the
// failure is a protocol rejection: 4xx is a temporary condition worth
// retrying, 5xx is a permanent rejection (bad recipient, policy refusal)
// that will fail identically on every future attempt. Anything else (a
// dial timeout, refused connection, reset mid-transfer) never reached the
// SMTP protocol layer at all and is treated as transient.
func isTransientSendError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code/100 == 4
	}
	return true
}

// connectionLocked returns a live connection, confirming reuse with NOOP
// within the freshness window and dialing fresh otherwise. Caller must hold
// s.mu.
func (s *SMTP) connectionLocked(ctx context.Context) (*smtp.Client, error) {
	if s.client != nil && time.Since(s.lastUsed) < connectionFreshness {
		if err := s.client.Noop(); err == nil {
			return s.client, nil
		}
		s.teardownLocked()
	}
	return s.dialLocked(ctx)
}

// dialLocked opens a new TCP connection, negotiates STARTTLS when
// configured, and authenticates. Caller must hold s.mu.
func (s *SMTP) dialLocked(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: s.cfg.Host}
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if s.cfg.User != "" {
		auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	s.client = client
	s.lastUsed = time.Now()
	return client, nil
}

// deliverLocked assembles the MIME message and writes it over client.
// Caller must hold s.mu.
func (s *SMTP) deliverLocked(client *smtp.Client, msg Message) error {
	m := mail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.FromEmail, s.cfg.FromName))
	if msg.RecipientName != "" {
		m.SetHeader("To", m.FormatAddress(msg.RecipientEmail, msg.RecipientName))
	} else {
		m.SetHeader("To", msg.RecipientEmail)
	}
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.BodyText != "" && msg.BodyHTML != "":
		m.SetBody("text/plain", msg.BodyText)
		m.AddAlternative("text/html", msg.BodyHTML)
	case msg.BodyHTML != "":
		m.SetBody("text/html", msg.BodyHTML)
	default:
		m.SetBody("text/plain", msg.BodyText)
	}

	if err := client.Mail(s.cfg.FromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(msg.RecipientEmail); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := m.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}

	s.lastUsed = time.Now()
	return nil
}

// Validate dials and authenticates a throwaway connection to confirm SMTP
// configuration at worker startup, then closes it.
func (s *SMTP) Validate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.dialLocked(ctx); err != nil {
		return errs.Transport("smtp validation failed", err, true)
	}
	s.teardownLocked()
	logger.Logger.Info("smtp configuration validated", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

// teardownLocked quits and forgets the current connection, if any. Caller
// must hold s.mu.
func (s *SMTP) teardownLocked() {
	if s.client != nil {
		_ = s.client.Quit()
		s.client = nil
	}
}

// Close tears down the held connection, if any.
func (s *SMTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}
