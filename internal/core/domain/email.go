package domain

import "time"

type EmailStatus string

const (
	EmailPending   EmailStatus = "pending"
	EmailProcessed EmailStatus = "processed"
	EmailFailed    EmailStatus = "failed"
)

type EmailDirection string

const (
	EmailInbound  EmailDirection = "inbound"
	EmailOutbound EmailDirection = "outbound"
)

type Email struct {
	ID           string         `json:"id"`
	Direction    EmailDirection `json:"direction"`
	Sender       string         `json:"sender"`
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Attachments  []string       `json:"attachments,omitempty"`
	Status       EmailStatus    `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ReceivedAt   *time.Time     `json:"received_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EmailAttachment is an inbound attachment as handed over by the ingestion
// endpoint, already base64-decoded.
type EmailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
