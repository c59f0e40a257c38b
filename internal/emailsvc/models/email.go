// Package models defines the persistent email queue record and the
// enumerations that describe its lifecycle.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Status represents the delivery status of a queued email.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Type categorizes the kind of email being sent, driving template selection
// and fallback-text generation. An unrecognized value coerces to Transactional.
type Type string

const (
	TypeTransactional       Type = "transactional"
	TypeBookingCreated      Type = "booking_created"
	TypeBookingCancelled    Type = "booking_cancelled"
	TypeBookingRescheduled  Type = "booking_rescheduled"
	TypeReminder24h         Type = "reminder_24h"
	TypeReminder1h          Type = "reminder_1h"
	TypeReminderCustom      Type = "reminder_custom"
	TypeOTPVerification     Type = "otp_verification"
)

// NormalizeType coerces any unrecognized email type to Transactional, per
// the template id mapping rule.
func NormalizeType(t string) Type {
	switch Type(t) {
	case TypeBookingCreated, TypeBookingCancelled, TypeBookingRescheduled,
		TypeReminder24h, TypeReminder1h, TypeReminderCustom, TypeOTPVerification,
		TypeTransactional:
		return Type(t)
	default:
		return TypeTransactional
	}
}

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
	MaxErrorLen       = 500
)

// Email is a single row of the email_queue table: one per (recipient,
// logical message) pair.
type Email struct {
	ID              int64
	Type            Type
	RecipientEmail  string
	RecipientName   string
	Subject         string
	BodyHTML        string
	BodyText        string
	Status          Status
	RetryCount      int
	MaxRetries      int
	LastError       string
	NextRetryAt     *time.Time
	ScheduledFor    time.Time
	SentAt          *time.Time
	Priority        int
	TemplateContext JSONContext
	Locale          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasTemplateContext reports whether the row carries a template context to
// be rendered, as opposed to pre-rendered body content.
func (e *Email) HasTemplateContext() bool {
	return e.TemplateContext != nil
}

// EnqueueInput is the set of fields a caller supplies to create a new row;
// the store fills in defaults, timestamps, and the generated id.
type EnqueueInput struct {
	Type            Type
	RecipientEmail  string
	RecipientName   string
	Subject         string
	BodyHTML        string
	BodyText        string
	TemplateContext JSONContext
	Locale          string
	ScheduledFor    *time.Time // nil = now
	Priority        int        // 0 = default (5)
	MaxRetries      int        // 0 = the store's configured default (EMAIL_RETRY_MAX_ATTEMPTS)
}

// JSONContext is a nullable JSON object column: nil when the row carries a
// pre-rendered body instead of a template context.
type JSONContext map[string]any

// Value implements driver.Valuer.
func (c JSONContext) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *JSONContext) Scan(value any) error {
	if value == nil {
		*c = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		*c = nil
		return nil
	}
	if len(data) == 0 {
		*c = nil
		return nil
	}
	return json.Unmarshal(data, c)
}

// Stats is a status -> row count snapshot, as returned by the queue store's
// Stats operation.
type Stats map[string]int64
