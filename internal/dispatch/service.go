// Package dispatch orchestrates one notification end to end:
// validate -> admit -> render -> deliver -> log. Each step gates the next;
// nothing runs in parallel within a single dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskmail/internal/audit"
	"taskmail/internal/events"
	"taskmail/internal/mailer"
	"taskmail/internal/ratelimit"
	"taskmail/internal/template"
	"taskmail/internal/types"
	"taskmail/internal/validator"

	"go.uber.org/zap"
)

// Receipt is returned for a successfully delivered notification.
type Receipt struct {
	RecordID          string `json:"record_id"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// Service coordinates the dispatch pipeline. It is the single boundary
// that translates internal failures into the caller-visible error kinds.
type Service struct {
	store     audit.Store
	limiter   ratelimit.Admitter
	renderer  *template.Renderer
	sender    mailer.Sender
	publisher events.Publisher
	validate  *validator.Validator
	logger    *zap.Logger
}

// NewService wires the dispatch pipeline.
func NewService(store audit.Store, limiter ratelimit.Admitter, renderer *template.Renderer,
	sender mailer.Sender, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		limiter:   limiter,
		renderer:  renderer,
		sender:    sender,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Dispatch processes one notification request for an identity.
//
// Validation failures return before admission and leave no audit trace:
// they are caller bugs, not identity behavior. Everything after admission
// produces exactly one audit record, including limiter rejections, so a
// rejected burst stays visible when diagnosing abuse. There is no retry
// here; an in-process retry would silently consume quota twice.
func (s *Service) Dispatch(ctx context.Context, identityID string, req *types.NotificationRequest, now time.Time) (*Receipt, error) {
	if err := s.validateRequest(identityID, req); err != nil {
		return nil, err
	}

	decision, err := s.limiter.Check(ctx, identityID, now)
	if err != nil {
		return nil, fmt.Errorf("admission check failed: %w", err)
	}
	if !decision.Allowed {
		s.appendRecord(ctx, &types.AuditRecord{
			IdentityID:    identityID,
			Recipient:     req.To,
			Subject:       req.Subject,
			TemplateID:    req.TemplateID,
			Outcome:       types.OutcomeFailed,
			FailureReason: decision.Reason,
			CreatedAt:     now,
		})
		return nil, &types.RejectedError{Window: decision.Window, Reason: decision.Reason}
	}

	content, err := s.resolveContent(req)
	if err != nil {
		return nil, err
	}

	messageID, sendErr := s.sender.Send(ctx, req.To, req.Subject, content)

	record := &types.AuditRecord{
		IdentityID: identityID,
		Recipient:  req.To,
		Subject:    req.Subject,
		TemplateID: req.TemplateID,
		Outcome:    types.OutcomeSent,
		CreatedAt:  now,
	}
	if sendErr != nil {
		record.Outcome = types.OutcomeFailed
		record.FailureReason = failureReason(sendErr)
	}
	s.appendRecord(ctx, record)

	if sendErr != nil {
		var deliveryErr *types.DeliveryError
		if errors.As(sendErr, &deliveryErr) {
			return nil, deliveryErr
		}
		return nil, &types.DeliveryError{Message: sendErr.Error(), Err: sendErr}
	}

	s.logger.Info("Notification sent",
		zap.String("identity_id", identityID),
		zap.String("recipient", req.To),
		zap.String("template", string(req.TemplateID)),
		zap.String("record_id", record.ID))

	return &Receipt{
		RecordID:          record.ID,
		ProviderMessageID: messageID,
	}, nil
}

// validateRequest checks request shape before admission. Template
// registration is checked here too: an unknown identifier is caller-fixable
// and should not consume a quota slot.
func (s *Service) validateRequest(identityID string, req *types.NotificationRequest) error {
	if identityID == "" {
		return types.NewValidationError("identity", "identity id is required")
	}
	if req.To == "" {
		return types.NewValidationError("to", "recipient address is required")
	}
	if err := s.validate.Var(req.To, "email"); err != nil {
		return types.NewValidationError("to", "recipient address is not a valid email address")
	}
	if req.Subject == "" {
		return types.NewValidationError("subject", "subject is required")
	}
	if req.TemplateID != "" && !template.IsRegistered(req.TemplateID) {
		return &types.ValidationError{
			Field:  "template_id",
			Reason: fmt.Sprintf("unknown template %q", req.TemplateID),
			Err:    types.ErrUnknownTemplate,
		}
	}
	if req.TemplateID == "" && req.HTML == "" && req.Text == "" {
		return &types.ValidationError{
			Reason: "one of template_id, html or text is required",
			Err:    types.ErrEmptyContent,
		}
	}
	return nil
}

// resolveContent produces the immutable html/text pair for the request.
func (s *Service) resolveContent(req *types.NotificationRequest) (types.RenderedContent, error) {
	if req.TemplateID != "" {
		content, err := s.renderer.Render(req.TemplateID, req.TemplateData)
		if err != nil {
			return types.RenderedContent{}, &types.ValidationError{
				Field:  "template_id",
				Reason: err.Error(),
				Err:    err,
			}
		}
		return content, nil
	}

	content := types.RenderedContent{HTML: req.HTML, Text: req.Text}
	if content.Empty() {
		return types.RenderedContent{}, &types.ValidationError{
			Reason: "notification resolved to empty content",
			Err:    types.ErrEmptyContent,
		}
	}
	return content, nil
}

// appendRecord writes the audit record and publishes the outcome event.
// A failed audit write is logged operationally and never surfaced: it must
// not mask or replace the real outcome of the send attempt.
func (s *Service) appendRecord(ctx context.Context, record *types.AuditRecord) {
	if err := s.store.Append(ctx, record); err != nil {
		s.logger.Error("Failed to write audit record",
			zap.String("identity_id", record.IdentityID),
			zap.String("recipient", record.Recipient),
			zap.String("outcome", string(record.Outcome)),
			zap.Error(err))
	}
	s.publisher.Publish(ctx, record)
}

// failureReason extracts the provider's message for the audit trail.
func failureReason(err error) string {
	var deliveryErr *types.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Message != "" {
		return deliveryErr.Message
	}
	return err.Error()
}
