// Package errs implements the service's typed error taxonomy: five root
// causes, wrapped with structured attributes via errx, so call sites can
// distinguish configuration, queue, transport, template, and generic
// service failures with errors.Is/errors.As.
package errs

import (
	"errors"
	"strings"

	"github.com/go-extras/errx"
	stacktrace "github.com/go-extras/errx/stacktrace"
)

// Root causes. Every error returned by the service wraps exactly one of
// these via errors.Is.
var (
	ErrConfig    = errors.New("config error")
	ErrQueue     = errors.New("queue error")
	ErrTransport = errors.New("transport error")
	ErrTemplate  = errors.New("template error")
	ErrService   = errors.New("service error")
)

// transientKeywords mirrors the lexical classification rule consumed by the
// worker to decide between scheduling a retry and failing a row permanently.
// The set must not be reordered or trimmed without updating callers that
// depend on its exact membership.
var transientKeywords = []string{
	"timeout",
	"connection",
	"temporarily",
	"try again",
	"unavailable",
	"service",
	"refused",
	"reset",
	"broken pipe",
}

// QueueError carries the affected row id alongside the wrapped cause.
type QueueError struct {
	RowID int64
	err   error
}

func (e *QueueError) Error() string { return e.err.Error() }
func (e *QueueError) Unwrap() error { return e.err }

// TransportErr carries the transience classification alongside the wrapped
// cause; the Transport constructor below builds it.
type TransportErr struct {
	Transient bool
	err       error
}

func (e *TransportErr) Error() string { return e.err.Error() }
func (e *TransportErr) Unwrap() error { return e.err }

// TemplateErr carries the offending template name alongside the wrapped cause.
type TemplateErr struct {
	Name string
	err  error
}

func (e *TemplateErr) Error() string { return e.err.Error() }
func (e *TemplateErr) Unwrap() error { return e.err }

// Config wraps a configuration failure.
func Config(msg string, cause error, attrs ...errx.Attr) error {
	return stacktrace.Wrap(msg, errors.Join(ErrConfig, cause), attrs...)
}

// Queue wraps a relational-store failure, tagging the affected row id.
func Queue(msg string, cause error, rowID int64, attrs ...errx.Attr) error {
	wrapped := errors.Join(ErrQueue, cause)
	if rowID != 0 {
		attrs = append(attrs, errx.Attrs("row_id", rowID)...)
		wrapped = &QueueError{RowID: rowID, err: wrapped}
	}
	return stacktrace.Wrap(msg, wrapped, attrs...)
}

// Transport wraps an SMTP delivery failure with its transience classification.
func Transport(msg string, cause error, transient bool, attrs ...errx.Attr) error {
	attrs = append(attrs, errx.Attrs("transient", transient)...)
	wrapped := &TransportErr{Transient: transient, err: errors.Join(ErrTransport, cause)}
	return stacktrace.Wrap(msg, wrapped, attrs...)
}

// Template wraps a rendering failure, tagging the template name.
func Template(msg string, cause error, templateName string, attrs ...errx.Attr) error {
	attrs = append(attrs, errx.Attrs("template", templateName)...)
	wrapped := &TemplateErr{Name: templateName, err: errors.Join(ErrTemplate, cause)}
	return stacktrace.Wrap(msg, wrapped, attrs...)
}

// Service wraps a failure whose precise cause is irrelevant to the caller.
func Service(msg string, cause error, attrs ...errx.Attr) error {
	return stacktrace.Wrap(msg, errors.Join(ErrService, cause), attrs...)
}

// IsTransient applies the service's lexical transience rule to err's
// message. A TransportErr's explicit classification takes precedence over
// the lexical scan; otherwise the rule runs over err.Error() so it is safe
// to call on errors built outside this package (e.g. a raw network error
// surfaced by the SMTP client before it is wrapped).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportErr
	if errors.As(err, &te) {
		return te.Transient
	}
	text := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// RowID extracts the row id tagged by Queue, if any.
func RowID(err error) (int64, bool) {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.RowID, true
	}
	return 0, false
}

// TemplateName extracts the template name tagged by Template, if any.
func TemplateName(err error) (string, bool) {
	var te *TemplateErr
	if errors.As(err, &te) {
		return te.Name, true
	}
	return "", false
}

// Truncate caps an error message at n characters, matching the queue
// store's last_error column width (500 chars by default).
func Truncate(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	return msg[:n]
}
