package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/core/ports"
)

// DeliveryPolicy governs webhook retry behavior. The backoff curve is
// deliberately steeper than the OCR pipeline's: delivery targets are third
// parties and repeated hammering helps nobody.
type DeliveryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	TokenTTL      time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxRetries:    3,
		BaseDelay:     5 * time.Second,
		BackoffFactor: 5,
		TokenTTL:      5 * time.Minute,
	}
}

// RetryDelay returns the wait before the attempt following the given failure
// count: 5s, 25s, 125s with the defaults.
func (p DeliveryPolicy) RetryDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(failures-1)))
}

// WebhookDispatcher registers webhooks, fans events out to them and performs
// individual delivery attempts. Successive attempts for one webhook reuse the
// same record; delivery is at-least-once and receivers dedup on X-Webhook-ID.
type WebhookDispatcher struct {
	repo   ports.WebhookRepository
	sender ports.WebhookSender
	signer ports.TokenSigner
	queue  ports.TaskQueue
	policy DeliveryPolicy
}

func NewWebhookDispatcher(
	repo ports.WebhookRepository,
	sender ports.WebhookSender,
	signer ports.TokenSigner,
	queue ports.TaskQueue,
	policy DeliveryPolicy,
) *WebhookDispatcher {
	if policy.MaxRetries <= 0 {
		policy = DefaultDeliveryPolicy()
	}
	return &WebhookDispatcher{
		repo:   repo,
		sender: sender,
		signer: signer,
		queue:  queue,
		policy: policy,
	}
}

// Register probes the URL before persisting: a target that cannot answer a
// HEAD request now is overwhelmingly likely to burn all delivery retries later.
func (d *WebhookDispatcher) Register(ctx context.Context, applicationID string, event domain.WebhookEvent, rawURL string) (*domain.Webhook, error) {
	if err := validateTarget(event, rawURL); err != nil {
		return nil, err
	}
	if err := d.sender.Probe(ctx, rawURL); err != nil {
		return nil, domain.WrapError(domain.ErrDelivery, "probe webhook url", err)
	}

	now := time.Now().UTC()
	wh := &domain.Webhook{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		Event:         event,
		URL:           rawURL,
		Status:        domain.WebhookPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.repo.Create(ctx, wh); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return wh, nil
}

// Update changes the event or target URL. A changed URL is re-probed and the
// retry counter starts over for the new target.
func (d *WebhookDispatcher) Update(ctx context.Context, webhookID string, event domain.WebhookEvent, rawURL string) (*domain.Webhook, error) {
	if err := validateTarget(event, rawURL); err != nil {
		return nil, err
	}
	wh, err := d.repo.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	if rawURL != wh.URL {
		if err := d.sender.Probe(ctx, rawURL); err != nil {
			return nil, domain.WrapError(domain.ErrDelivery, "probe webhook url", err)
		}
		wh.RetryCount = 0
		wh.Status = domain.WebhookPending
	}
	wh.Event = event
	wh.URL = rawURL
	wh.UpdatedAt = time.Now().UTC()

	if err := d.repo.Update(ctx, wh); err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	return wh, nil
}

// NotifyEvent stores the event body on every webhook registered for it and
// enqueues one delivery task per webhook.
func (d *WebhookDispatcher) NotifyEvent(ctx context.Context, applicationID string, event domain.WebhookEvent, data map[string]any) error {
	hooks, err := d.repo.ListByEvent(ctx, applicationID, event)
	if err != nil {
		return fmt.Errorf("list webhooks for %s: %w", event, err)
	}

	var firstErr error
	for i := range hooks {
		wh := &hooks[i]
		if err := d.repo.SetPayload(ctx, wh.ID, data); err != nil {
			slog.Error("stage webhook payload", "webhook_id", wh.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := d.queue.EnqueueWebhookDelivery(ctx, wh.ID); err != nil {
			slog.Error("enqueue webhook delivery", "webhook_id", wh.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Deliver performs one delivery attempt. On failure the retry counter moves
// on the record itself, so the attempt limit holds across worker restarts.
func (d *WebhookDispatcher) Deliver(ctx context.Context, webhookID string) domain.Outcome {
	wh, err := d.repo.GetByID(ctx, webhookID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return domain.TerminalFailure(err)
		}
		return domain.RetryableFailure(d.policy.BaseDelay, domain.WrapError(domain.ErrTransient, "load webhook", err))
	}

	if wh.Delivered {
		return domain.Success()
	}
	if wh.Status == domain.WebhookFailed && wh.RetryCount >= d.policy.MaxRetries {
		return domain.TerminalFailure(domain.WrapError(domain.ErrDelivery, "deliver webhook",
			fmt.Errorf("webhook %s exhausted %d attempts", wh.ID, wh.RetryCount)))
	}

	wh.Status = domain.WebhookProcessing
	wh.UpdatedAt = time.Now().UTC()
	if err := d.repo.Update(ctx, wh); err != nil {
		return domain.RetryableFailure(d.policy.BaseDelay, domain.WrapError(domain.ErrTransient, "mark webhook processing", err))
	}

	body, err := json.Marshal(domain.WirePayload{
		Event:         wh.Event,
		ApplicationID: wh.ApplicationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          wh.Payload,
		Metadata: domain.WireMetadata{
			ProcessingTime: payloadProcessingSeconds(wh.Payload),
			Version:        domain.WirePayloadVersion,
			RetryCount:     wh.RetryCount,
		},
	})
	if err != nil {
		return d.recordFailure(ctx, wh, domain.WrapError(domain.ErrValidation, "encode payload", err), 0)
	}

	token, err := d.signer.Issue(wh.ID, map[string]any{"event": string(wh.Event)}, d.policy.TokenTTL)
	if err != nil {
		return d.recordFailure(ctx, wh, domain.WrapError(domain.ErrProcessing, "sign payload", err), 0)
	}

	started := time.Now()
	statusCode, err := d.sender.Send(ctx, wh, body, token)
	elapsed := time.Since(started)
	if err != nil {
		return d.recordFailure(ctx, wh, domain.WrapError(domain.ErrDelivery, "post webhook", err), statusCode)
	}

	now := time.Now().UTC()
	wh.Delivered = true
	wh.Status = domain.WebhookDelivered
	wh.DeliveredAt = &now
	wh.UpdatedAt = now
	mergeMeta(wh, "last_delivery", map[string]any{
		"timestamp":       now.Format(time.RFC3339),
		"status_code":     statusCode,
		"processing_time": elapsed.Seconds(),
	})
	if err := d.repo.Update(ctx, wh); err != nil {
		// The POST went out; re-running would double-deliver for nothing.
		slog.Error("record webhook delivery", "webhook_id", wh.ID, "error", err)
	}
	return domain.Success()
}

func (d *WebhookDispatcher) recordFailure(ctx context.Context, wh *domain.Webhook, cause error, statusCode int) domain.Outcome {
	wh.RetryCount++
	wh.UpdatedAt = time.Now().UTC()
	mergeMeta(wh, "last_error", map[string]any{
		"timestamp":   wh.UpdatedAt.Format(time.RFC3339),
		"error":       cause.Error(),
		"status_code": statusCode,
		"retry_count": wh.RetryCount,
	})

	terminal := wh.RetryCount >= d.policy.MaxRetries
	if terminal {
		wh.Status = domain.WebhookFailed
	} else {
		wh.Status = domain.WebhookPending
	}
	if err := d.repo.Update(ctx, wh); err != nil {
		slog.Error("record webhook failure", "webhook_id", wh.ID, "error", err)
	}

	if terminal {
		return domain.TerminalFailure(cause)
	}
	return domain.RetryableFailure(d.policy.RetryDelay(wh.RetryCount), cause)
}

// payloadProcessingSeconds surfaces the pipeline's processing duration in the
// wire metadata when the staged event carries one.
func payloadProcessingSeconds(payload map[string]any) float64 {
	if v, ok := payload["processing_seconds"].(float64); ok {
		return v
	}
	return 0
}

func mergeMeta(wh *domain.Webhook, key string, value any) {
	if wh.Metadata == nil {
		wh.Metadata = map[string]any{}
	}
	wh.Metadata[key] = value
}

func validateTarget(event domain.WebhookEvent, rawURL string) error {
	if !domain.ValidWebhookEvent(event) {
		return domain.WrapError(domain.ErrValidation, "validate webhook", fmt.Errorf("unknown event %q", event))
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.WrapError(domain.ErrValidation, "validate webhook", fmt.Errorf("invalid url %q", rawURL))
	}
	return nil
}
