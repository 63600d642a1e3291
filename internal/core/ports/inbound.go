package ports

import (
	"context"
	"io"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, applicationID string, docType domain.DocumentType, filename, contentType string, size int64, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous OCR processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) domain.Outcome
}

// WebhookService is the inbound contract for webhook registration and delivery.
type WebhookService interface {
	Register(ctx context.Context, applicationID string, event domain.WebhookEvent, url string) (*domain.Webhook, error)
	Update(ctx context.Context, webhookID string, event domain.WebhookEvent, url string) (*domain.Webhook, error)
	Deliver(ctx context.Context, webhookID string) domain.Outcome
	NotifyEvent(ctx context.Context, applicationID string, event domain.WebhookEvent, data map[string]any) error
}

// EmailService is the inbound contract for outbound mail and inbound ingestion.
type EmailService interface {
	QueueSend(ctx context.Context, recipient, subject, body string) (*domain.Email, error)
	SendByID(ctx context.Context, emailID string) domain.Outcome
	IngestInbound(ctx context.Context, applicationID, sender, subject, body string, attachments []domain.EmailAttachment) (*domain.Email, error)
}
