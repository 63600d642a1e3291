package asynq

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues pipeline tasks. It implements ports.TaskQueue.
type Client struct {
	client *asynq.Client

	ocrMaxRetries     int
	webhookMaxRetries int
	ocrTimeout        time.Duration
	webhookTimeout    time.Duration
}

type ClientOptions struct {
	OCRMaxRetries     int
	WebhookMaxRetries int
	OCRTimeout        time.Duration
	WebhookTimeout    time.Duration
}

func NewClient(redis asynq.RedisClientOpt, opts ClientOptions) *Client {
	if opts.OCRMaxRetries <= 0 {
		opts.OCRMaxRetries = 3
	}
	if opts.WebhookMaxRetries <= 0 {
		opts.WebhookMaxRetries = 3
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = time.Hour
	}
	if opts.WebhookTimeout <= 0 {
		// One 30s POST plus bookkeeping headroom.
		opts.WebhookTimeout = 35 * time.Second
	}
	return &Client{
		client:            asynq.NewClient(redis),
		ocrMaxRetries:     opts.OCRMaxRetries,
		webhookMaxRetries: opts.WebhookMaxRetries,
		ocrTimeout:        opts.OCRTimeout,
		webhookTimeout:    opts.WebhookTimeout,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueOCR(ctx context.Context, documentID string) error {
	task, err := newTask(TaskOCRProcess, OCRPayload{DocumentID: documentID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueOCR),
		asynq.MaxRetry(c.ocrMaxRetries),
		asynq.Timeout(c.ocrTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue ocr task: %w", err)
	}
	return nil
}

func (c *Client) EnqueueWebhookDelivery(ctx context.Context, webhookID string) error {
	return c.enqueueWebhook(ctx, webhookID, 0)
}

func (c *Client) EnqueueWebhookDeliveryIn(ctx context.Context, webhookID string, delay time.Duration) error {
	return c.enqueueWebhook(ctx, webhookID, delay)
}

func (c *Client) enqueueWebhook(ctx context.Context, webhookID string, delay time.Duration) error {
	task, err := newTask(TaskWebhookDelivery, WebhookPayload{WebhookID: webhookID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueWebhooks),
		asynq.MaxRetry(c.webhookMaxRetries),
		asynq.Timeout(c.webhookTimeout),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue webhook task: %w", err)
	}
	return nil
}

func (c *Client) EnqueueEmailSend(ctx context.Context, emailID string) error {
	task, err := newTask(TaskEmailSend, EmailPayload{EmailID: emailID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueEmails),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue email task: %w", err)
	}
	return nil
}
