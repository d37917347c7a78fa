package types

import "time"

// TemplateID identifies a registered notification template.
type TemplateID string

const (
	TemplateTaskReminder  TemplateID = "task-reminder"
	TemplateTaskAssigned  TemplateID = "task-assigned"
	TemplateTaskCompleted TemplateID = "task-completed"
	TemplateWelcome       TemplateID = "welcome"
	TemplatePasswordReset TemplateID = "password-reset"
)

// Outcome represents the final state of a dispatch attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// NotificationRequest represents a single outbound notification request.
// Content is resolved from TemplateID when present, otherwise from the
// raw HTML/Text fields.
type NotificationRequest struct {
	To           string         `json:"to" binding:"required"`
	Subject      string         `json:"subject" binding:"required"`
	TemplateID   TemplateID     `json:"template_id,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	HTML         string         `json:"html,omitempty"`
	Text         string         `json:"text,omitempty"`
}

// RenderedContent is the immutable html/text pair produced once per request.
type RenderedContent struct {
	HTML string
	Text string
}

// Empty reports whether both variants resolved to nothing.
func (c RenderedContent) Empty() bool {
	return c.HTML == "" && c.Text == ""
}

// AuditRecord describes one dispatch attempt and its outcome. Records are
// append-only and never mutated after creation.
type AuditRecord struct {
	ID            string     `json:"id"`
	IdentityID    string     `json:"identity_id"`
	Recipient     string     `json:"recipient"`
	Subject       string     `json:"subject"`
	TemplateID    TemplateID `json:"template_id,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Limits holds the per-identity send quotas. Fixed at construction time;
// changing them requires a redeploy.
type Limits struct {
	MaxPerHour int `json:"max_per_hour"`
	MaxPerDay  int `json:"max_per_day"`
}

// Quota reports remaining send allowance for an identity. Informational
// only: the authoritative check happens inside the dispatch service.
type Quota struct {
	Limits          Limits `json:"limits"`
	UsedLastHour    int    `json:"used_last_hour"`
	UsedLastDay     int    `json:"used_last_day"`
	RemainingHourly int    `json:"remaining_hourly"`
	RemainingDaily  int    `json:"remaining_daily"`
}
