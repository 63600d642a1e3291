package asynq

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type names double as routing keys; payloads carry only entity IDs so
// handlers always load fresh state from the database.
const (
	TaskOCRProcess      = "document:ocr"
	TaskWebhookDelivery = "webhook:deliver"
	TaskEmailSend       = "email:send"
)

// Named queues with their scheduling weights. OCR work dominates but webhook
// deliveries must not starve behind a burst of uploads.
const (
	QueueDocuments = "documents"
	QueueOCR       = "ocr"
	QueueWebhooks  = "webhooks"
	QueueEmails    = "emails"
)

func QueueWeights() map[string]int {
	return map[string]int{
		QueueOCR:       5,
		QueueWebhooks:  3,
		QueueDocuments: 2,
		QueueEmails:    1,
	}
}

type OCRPayload struct {
	DocumentID string `json:"document_id"`
}

type WebhookPayload struct {
	WebhookID string `json:"webhook_id"`
}

type EmailPayload struct {
	EmailID string `json:"email_id"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}
