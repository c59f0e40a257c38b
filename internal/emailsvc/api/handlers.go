package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/models"
)

// Queue is the subset of *queue.Store the ingress edge needs.
type Queue interface {
	EnqueueBatch(ctx context.Context, ins []models.EnqueueInput) ([]int64, error)
	Stats(ctx context.Context) (models.Stats, error)
	HealthCheck(ctx context.Context) error
}

// Handler serves the three ingress endpoints over a queue store and the
// configuration used to report whether SMTP is ready to send.
type Handler struct {
	queue   Queue
	cfg     *config.Config
	version string
}

// NewHandler builds a Handler. version is surfaced verbatim in /health.
func NewHandler(queue Queue, cfg *config.Config, version string) *Handler {
	return &Handler{queue: queue, cfg: cfg, version: version}
}

// enqueueRequest is the POST /emails wire shape.
type enqueueRequest struct {
	ClientMessageID string         `json:"client_message_id"`
	To              []string       `json:"to"`
	CC              []string       `json:"cc"`
	BCC             []string       `json:"bcc"`
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	TemplateID      string         `json:"template_id"`
	TemplateVars    map[string]any `json:"template_vars"`
	Locale          string         `json:"locale"`
	Metadata        map[string]any `json:"metadata"`
}

// templateIDToType implements the §6.2 mapping: a recognized id maps to its
// type, anything else (including empty) coerces to transactional.
var templateIDToType = map[string]models.Type{
	"otp_verification":    models.TypeOTPVerification,
	"booking_created":     models.TypeBookingCreated,
	"booking_cancelled":   models.TypeBookingCancelled,
	"booking_rescheduled": models.TypeBookingRescheduled,
	"reminder_24h":        models.TypeReminder24h,
	"reminder_1h":         models.TypeReminder1h,
}

func (req enqueueRequest) validate() string {
	if len(req.To) == 0 {
		return "'to' must contain at least one recipient"
	}
	for _, addr := range req.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			return "'to' contains an invalid email address: " + addr
		}
	}
	for _, addr := range append(append([]string{}, req.CC...), req.BCC...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return "'cc'/'bcc' contains an invalid email address: " + addr
		}
	}
	if req.Subject == "" || len(req.Subject) > 998 {
		return "'subject' must be between 1 and 998 characters"
	}
	if req.TemplateID == "" && req.Body == "" {
		return "'body' is required when 'template_id' is not set"
	}
	return ""
}

// HandleEnqueue fans the request out to one queue row per recipient across
// to, cc, and bcc, and returns a single accepted envelope covering all of
// them.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "request body is not valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeValidationError(w, msg)
		return
	}

	messageID := req.ClientMessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	emailType, hasTemplate := templateIDToType[req.TemplateID]
	if !hasTemplate {
		emailType = models.TypeTransactional
	}

	var templateContext models.JSONContext
	if req.TemplateID != "" {
		templateContext = models.JSONContext(req.TemplateVars)
		if templateContext == nil {
			templateContext = models.JSONContext{}
		}
	}

	recipients := append(append(append([]string{}, req.To...), req.CC...), req.BCC...)
	ins := make([]models.EnqueueInput, 0, len(recipients))
	for _, recipient := range recipients {
		ins = append(ins, models.EnqueueInput{
			Type:            emailType,
			RecipientEmail:  recipient,
			Subject:         req.Subject,
			BodyHTML:        req.Body,
			TemplateContext: templateContext,
			Locale:          req.Locale,
		})
	}

	if _, err := h.queue.EnqueueBatch(r.Context(), ins); err != nil {
		writeInternalError(w, err)
		return
	}

	writeAccepted(w, messageID, "email queued for delivery")
}

// HandleStatus serves GET /queue/status: a row count per lifecycle status,
// always reporting all five even when a status has no rows.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Pending:    stats[string(models.StatusPending)],
		Scheduled:  stats[string(models.StatusScheduled)],
		Processing: stats[string(models.StatusProcessing)],
		Sent:       stats[string(models.StatusSent)],
		Failed:     stats[string(models.StatusFailed)],
	})
}

// HandleHealth serves GET /health: ok (200) when the queue store responds,
// degraded (503) when it does not. SMTP configuration is reported in
// email_provider ("ok" or "not_configured") but does not affect the status,
// so the API process can run standalone ahead of the worker being wired up.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	overall := http.StatusOK
	status := "ok"

	if err := h.queue.HealthCheck(r.Context()); err != nil {
		dbStatus = "error"
		overall = http.StatusServiceUnavailable
		status = "degraded"
	}

	emailStatus := "ok"
	if err := h.cfg.ValidateSMTP(); err != nil {
		emailStatus = "not_configured"
	}

	writeJSON(w, overall, healthResponse{
		Status:        status,
		DB:            dbStatus,
		EmailProvider: emailStatus,
		Version:       h.version,
	})
}
