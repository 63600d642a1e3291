package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/core/ports"
)

// EmailUseCase queues outbound mail and routes inbound mail (with attachments)
// into the document pipeline.
type EmailUseCase struct {
	repo           ports.EmailRepository
	gateway        ports.EmailGateway
	queue          ports.TaskQueue
	uploader       ports.DocumentIngestor
	notifier       EventNotifier
	sender         string
	retryBaseDelay time.Duration
}

func NewEmailUseCase(
	repo ports.EmailRepository,
	gateway ports.EmailGateway,
	queue ports.TaskQueue,
	uploader ports.DocumentIngestor,
	notifier EventNotifier,
	sender string,
	retryBaseDelay time.Duration,
) *EmailUseCase {
	if retryBaseDelay <= 0 {
		retryBaseDelay = 30 * time.Second
	}
	return &EmailUseCase{
		repo:           repo,
		gateway:        gateway,
		queue:          queue,
		uploader:       uploader,
		notifier:       notifier,
		sender:         sender,
		retryBaseDelay: retryBaseDelay,
	}
}

// QueueSend validates and persists the outbound email, then hands the actual
// SMTP conversation to the emails queue.
func (uc *EmailUseCase) QueueSend(ctx context.Context, recipient, subject, body string) (*domain.Email, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "send email", fmt.Errorf("invalid recipient %q", recipient))
	}

	now := time.Now().UTC()
	email := &domain.Email{
		ID:        uuid.NewString(),
		Direction: domain.EmailOutbound,
		Sender:    uc.sender,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    domain.EmailPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, email); err != nil {
		return nil, fmt.Errorf("create email record: %w", err)
	}
	if err := uc.queue.EnqueueEmailSend(ctx, email.ID); err != nil {
		return nil, domain.WrapError(domain.ErrTransient, "enqueue email send", err)
	}
	return email, nil
}

// SendByID performs one SMTP attempt off the request path.
func (uc *EmailUseCase) SendByID(ctx context.Context, emailID string) domain.Outcome {
	email, err := uc.repo.GetByID(ctx, emailID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return domain.TerminalFailure(err)
		}
		return domain.RetryableFailure(uc.retryBaseDelay, domain.WrapError(domain.ErrTransient, "load email", err))
	}
	if email.Status == domain.EmailProcessed {
		return domain.Success()
	}

	if err := uc.gateway.Send(ctx, email); err != nil {
		return domain.RetryableFailure(uc.retryBaseDelay, domain.WrapError(domain.ErrTransient, "smtp send", err))
	}

	if err := uc.repo.UpdateStatus(ctx, email.ID, domain.EmailProcessed, ""); err != nil {
		slog.Error("record email sent", "email_id", email.ID, "error", err)
	}
	return domain.Success()
}

// MarkSendFailed records the terminal failure once the queue gives up.
func (uc *EmailUseCase) MarkSendFailed(ctx context.Context, emailID, reason string) error {
	return uc.repo.UpdateStatus(ctx, emailID, domain.EmailFailed, reason)
}

// IngestInbound persists the received email and routes every attachment into
// the document pipeline as a pending upload.
func (uc *EmailUseCase) IngestInbound(ctx context.Context, applicationID, sender, subject, body string, attachments []domain.EmailAttachment) (*domain.Email, error) {
	if _, err := mail.ParseAddress(sender); err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "ingest email", fmt.Errorf("invalid sender %q", sender))
	}

	now := time.Now().UTC()
	email := &domain.Email{
		ID:         uuid.NewString(),
		Direction:  domain.EmailInbound,
		Sender:     sender,
		Recipient:  uc.sender,
		Subject:    subject,
		Body:       body,
		Status:     domain.EmailPending,
		ReceivedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.repo.Create(ctx, email); err != nil {
		return nil, fmt.Errorf("create email record: %w", err)
	}

	documentIDs := make([]string, 0, len(attachments))
	for _, att := range attachments {
		doc, err := uc.uploader.Upload(ctx, applicationID, domain.TypeOther, att.Filename, att.ContentType,
			int64(len(att.Content)), bytes.NewReader(att.Content))
		if err != nil {
			_ = uc.repo.UpdateStatus(ctx, email.ID, domain.EmailFailed, err.Error())
			return nil, fmt.Errorf("ingest attachment %s: %w", att.Filename, err)
		}
		documentIDs = append(documentIDs, doc.ID)
		email.Attachments = append(email.Attachments, doc.StoragePath)
	}

	if err := uc.repo.UpdateStatus(ctx, email.ID, domain.EmailProcessed, ""); err != nil {
		slog.Error("record email ingested", "email_id", email.ID, "error", err)
	}
	email.Status = domain.EmailProcessed

	if uc.notifier != nil {
		err := uc.notifier.NotifyEvent(ctx, applicationID, domain.EventEmailReceived, map[string]any{
			"email_id":     email.ID,
			"sender":       sender,
			"subject":      subject,
			"document_ids": documentIDs,
		})
		if err != nil {
			slog.Warn("notify email.received", "email_id", email.ID, "error", err)
		}
	}

	return email, nil
}
