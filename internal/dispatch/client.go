package dispatch

import (
	"context"
	"fmt"
	"time"

	"taskmail/internal/types"
)

// Client is the typed facade over the dispatch service: one constructor per
// notification kind, each picking the template and deriving the subject.
// It also exposes the configured limits so callers can display remaining
// quota; the authoritative check always happens inside Dispatch.
type Client struct {
	svc    *Service
	limits types.Limits
}

// NewClient creates the typed facade.
func NewClient(svc *Service, limits types.Limits) *Client {
	return &Client{
		svc:    svc,
		limits: limits,
	}
}

// Limits returns the configured quota windows. Read-only and informational.
func (c *Client) Limits() types.Limits {
	return c.limits
}

// SendTaskReminder notifies about an upcoming task.
func (c *Client) SendTaskReminder(ctx context.Context, identityID, to string, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, types.TemplateTaskReminder, data)
}

// SendTaskAssigned notifies about a newly assigned task.
func (c *Client) SendTaskAssigned(ctx context.Context, identityID, to string, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, types.TemplateTaskAssigned, data)
}

// SendTaskCompleted notifies about a completed task.
func (c *Client) SendTaskCompleted(ctx context.Context, identityID, to string, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, types.TemplateTaskCompleted, data)
}

// SendWelcome greets a new account.
func (c *Client) SendWelcome(ctx context.Context, identityID, to string, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, types.TemplateWelcome, data)
}

// SendPasswordReset delivers a password reset link.
func (c *Client) SendPasswordReset(ctx context.Context, identityID, to string, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, types.TemplatePasswordReset, data)
}

// KindFor maps a request path segment to a template identifier.
func KindFor(kind string) (types.TemplateID, bool) {
	switch kind {
	case "task-reminder", "task-assigned", "task-completed", "welcome", "password-reset":
		return types.TemplateID(kind), true
	default:
		return "", false
	}
}

// Send dispatches a typed notification by template identifier.
func (c *Client) Send(ctx context.Context, identityID, to string, id types.TemplateID, data map[string]any) (*Receipt, error) {
	return c.send(ctx, identityID, to, id, data)
}

func (c *Client) send(ctx context.Context, identityID, to string, id types.TemplateID, data map[string]any) (*Receipt, error) {
	req := &types.NotificationRequest{
		To:           to,
		Subject:      subjectFor(id, data),
		TemplateID:   id,
		TemplateData: data,
	}
	return c.svc.Dispatch(ctx, identityID, req, time.Now().UTC())
}

// subjectFor derives the subject line for a notification kind, folding in
// the task name when present.
func subjectFor(id types.TemplateID, data map[string]any) string {
	taskName, _ := data["taskName"].(string)

	switch id {
	case types.TemplateTaskReminder:
		if taskName != "" {
			return fmt.Sprintf("Reminder: %s", taskName)
		}
		return "Task reminder"
	case types.TemplateTaskAssigned:
		if taskName != "" {
			return fmt.Sprintf("New task: %s", taskName)
		}
		return "You have a new task"
	case types.TemplateTaskCompleted:
		if taskName != "" {
			return fmt.Sprintf("Completed: %s", taskName)
		}
		return "Task completed"
	case types.TemplateWelcome:
		return "Welcome to Taskmail"
	case types.TemplatePasswordReset:
		return "Reset your Taskmail password"
	default:
		return "Notification"
	}
}
