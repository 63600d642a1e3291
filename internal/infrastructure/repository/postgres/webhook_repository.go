package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(ctx context.Context, wh *domain.Webhook) error {
	payloadJSON, err := marshalNullableMeta(wh.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metaJSON, err := marshalMeta(wh.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO webhooks (
	id, application_id, event, url, payload, delivered, retry_count,
	status, metadata, created_at, updated_at, delivered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		wh.ID, wh.ApplicationID, string(wh.Event), wh.URL, payloadJSON, wh.Delivered, wh.RetryCount,
		string(wh.Status), metaJSON, wh.CreatedAt, wh.UpdatedAt, wh.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, application_id, event, url, payload, delivered, retry_count,
	status, metadata, created_at, updated_at, delivered_at
FROM webhooks
WHERE id = $1
`, id)

	wh, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get webhook", fmt.Errorf("webhook %s", id))
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	return wh, nil
}

func (r *WebhookRepository) ListByEvent(ctx context.Context, applicationID string, event domain.WebhookEvent) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, application_id, event, url, payload, delivered, retry_count,
	status, metadata, created_at, updated_at, delivered_at
FROM webhooks
WHERE application_id = $1 AND event = $2
ORDER BY created_at
`, applicationID, string(event))
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []domain.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, *wh)
	}
	return hooks, rows.Err()
}

func (r *WebhookRepository) Update(ctx context.Context, wh *domain.Webhook) error {
	metaJSON, err := marshalMeta(wh.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE webhooks
SET event = $2, url = $3, delivered = $4, retry_count = $5,
	status = $6, metadata = $7, updated_at = $8, delivered_at = $9
WHERE id = $1
`,
		wh.ID, string(wh.Event), wh.URL, wh.Delivered, wh.RetryCount,
		string(wh.Status), metaJSON, wh.UpdatedAt, wh.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return requireRow(res, "webhook", wh.ID)
}

// SetPayload stages the event body for the next delivery attempt and moves a
// previously delivered hook back to pending so it fires again. The retry
// counter is left untouched: a webhook that exhausted its budget stays dead.
func (r *WebhookRepository) SetPayload(ctx context.Context, id string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE webhooks
SET payload = $2,
	delivered = CASE WHEN status = 'failed' THEN delivered ELSE FALSE END,
	status = CASE WHEN status = 'failed' THEN status ELSE $3 END,
	updated_at = $4
WHERE id = $1
`, id, payloadJSON, string(domain.WebhookPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("stage webhook payload: %w", err)
	}
	return requireRow(res, "webhook", id)
}

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var wh domain.Webhook
	var event, status string
	var payloadRaw, metaRaw []byte
	var deliveredAt sql.NullTime

	err := row.Scan(
		&wh.ID, &wh.ApplicationID, &event, &wh.URL, &payloadRaw, &wh.Delivered, &wh.RetryCount,
		&status, &metaRaw, &wh.CreatedAt, &wh.UpdatedAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	wh.Event = domain.WebhookEvent(event)
	wh.Status = domain.WebhookStatus(status)
	if deliveredAt.Valid {
		wh.DeliveredAt = &deliveredAt.Time
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &wh.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &wh.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &wh, nil
}

func marshalNullableMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
