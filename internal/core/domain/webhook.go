package domain

import "time"

type WebhookEvent string

const (
	EventApplicationProcessed WebhookEvent = "application.processed"
	EventDocumentUploaded     WebhookEvent = "document.uploaded"
	EventEmailReceived        WebhookEvent = "email.received"
)

func ValidWebhookEvent(e WebhookEvent) bool {
	switch e {
	case EventApplicationProcessed, EventDocumentUploaded, EventEmailReceived:
		return true
	}
	return false
}

type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "pending"
	WebhookProcessing WebhookStatus = "processing"
	WebhookDelivered  WebhookStatus = "delivered"
	WebhookFailed     WebhookStatus = "failed"
)

// Webhook is a registered delivery target plus the bookkeeping for the most
// recent event sent to it. Attempts reuse the same record: retry_count and
// metadata are updated in place, no per-attempt rows.
type Webhook struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	Event         WebhookEvent   `json:"event"`
	URL           string         `json:"url"`
	Payload       map[string]any `json:"payload,omitempty"`
	Delivered     bool           `json:"delivered"`
	RetryCount    int            `json:"retry_count"`
	Status        WebhookStatus  `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}

// WirePayload is the JSON body POSTed to the registered URL.
type WirePayload struct {
	Event         WebhookEvent   `json:"event"`
	ApplicationID string         `json:"application_id"`
	Timestamp     string         `json:"timestamp"`
	Data          map[string]any `json:"data"`
	Metadata      WireMetadata   `json:"metadata"`
}

type WireMetadata struct {
	ProcessingTime float64 `json:"processing_time"`
	Version        string  `json:"version"`
	RetryCount     int     `json:"retry_count"`
}

const WirePayloadVersion = "1.0"
