package ports

import (
	"context"
	"io"
	"time"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
	// SaveProcessingResult writes the OCR result and the document's terminal
	// state in one transaction so a crash never leaves a torn write.
	SaveProcessingResult(ctx context.Context, doc *domain.Document, result *domain.OCRResult) error
	// ResetForReprocessing is the explicit terminal -> pending transition.
	ResetForReprocessing(ctx context.Context, id string) error
}

// OCRResultRepository reads past processing attempts.
type OCRResultRepository interface {
	GetLatestByDocumentID(ctx context.Context, documentID string) (*domain.OCRResult, error)
}

// WebhookRepository persists webhook registrations and delivery bookkeeping.
type WebhookRepository interface {
	Create(ctx context.Context, wh *domain.Webhook) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	ListByEvent(ctx context.Context, applicationID string, event domain.WebhookEvent) ([]domain.Webhook, error)
	Update(ctx context.Context, wh *domain.Webhook) error
	SetPayload(ctx context.Context, id string, payload map[string]any) error
}

// EmailRepository persists sent and received email records.
type EmailRepository interface {
	Create(ctx context.Context, email *domain.Email) error
	GetByID(ctx context.Context, id string) (*domain.Email, error)
	UpdateStatus(ctx context.Context, id string, status domain.EmailStatus, errMessage string) error
}

// ObjectStorage stores source documents and processed artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	SaveProcessed(ctx context.Context, key string, data []byte) error
}

// TaskQueue hands long-running work to the asynchronous execution substrate.
type TaskQueue interface {
	EnqueueOCR(ctx context.Context, documentID string) error
	EnqueueWebhookDelivery(ctx context.Context, webhookID string) error
	EnqueueWebhookDeliveryIn(ctx context.Context, webhookID string, delay time.Duration) error
	EnqueueEmailSend(ctx context.Context, emailID string) error
}

// OCREngine turns a preprocessed image into text plus per-word confidences.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (domain.Extraction, error)
}

// TextLayerExtractor pulls the embedded text layer out of born-digital files
// (PDFs) that never need the OCR engine.
type TextLayerExtractor interface {
	Extract(ctx context.Context, raw []byte) (domain.Extraction, error)
}

// ImagePreprocessor normalizes a scan before recognition.
type ImagePreprocessor interface {
	Prepare(raw []byte) (prepared []byte, width, height int, err error)
}

// WebhookSender performs the network half of webhook delivery.
type WebhookSender interface {
	// Probe checks URL liveness before a registration is accepted.
	Probe(ctx context.Context, url string) error
	// Send POSTs the signed payload and returns the HTTP status code.
	Send(ctx context.Context, wh *domain.Webhook, body []byte, token string) (int, error)
}

// TokenSigner issues and verifies the bearer tokens used both for webhook
// payload signing and API access.
type TokenSigner interface {
	Issue(subject string, claims map[string]any, ttl time.Duration) (string, error)
	Verify(token string) (subject string, tokenID string, err error)
}

// TokenRevoker is the shared revocation store: revoked token IDs live until
// their natural expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// EmailGateway sends outbound mail.
type EmailGateway interface {
	Send(ctx context.Context, email *domain.Email) error
}
