package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/observability/metrics"
)

// DocumentProcessor is the worker-side pipeline contract: one attempt plus
// the terminal bookkeeping once the retry budget is spent.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) domain.Outcome
	MarkFailed(ctx context.Context, documentID, reason string) error
}

type WebhookDeliverer interface {
	Deliver(ctx context.Context, webhookID string) domain.Outcome
}

type EmailSender interface {
	SendByID(ctx context.Context, emailID string) domain.Outcome
	MarkSendFailed(ctx context.Context, emailID, reason string) error
}

// retryAfterError carries the delay a pipeline outcome requested so the
// server-wide RetryDelayFunc can honor it.
type retryAfterError struct {
	delay time.Duration
	err   error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.delay, e.err)
}

func (e *retryAfterError) Unwrap() error { return e.err }

type ServerOptions struct {
	Concurrency          int
	OCRRatePerSecond     float64
	WebhookRatePerSecond float64
	ServiceName          string
}

// Server runs the worker loop: it owns the queue consumers and translates
// pipeline outcomes into substrate retry semantics.
type Server struct {
	srv     *asynq.Server
	mux     *asynq.ServeMux
	logger  *slog.Logger
	metrics *metrics.WorkerMetrics
	service string

	processor DocumentProcessor
	deliverer WebhookDeliverer
	emails    EmailSender

	ocrLimiter     *rate.Limiter
	webhookLimiter *rate.Limiter
}

func NewServer(
	redis asynq.RedisClientOpt,
	processor DocumentProcessor,
	deliverer WebhookDeliverer,
	emails EmailSender,
	logger *slog.Logger,
	workerMetrics *metrics.WorkerMetrics,
	opts ServerOptions,
) *Server {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.OCRRatePerSecond <= 0 {
		opts.OCRRatePerSecond = 2
	}
	if opts.WebhookRatePerSecond <= 0 {
		opts.WebhookRatePerSecond = 10
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "worker"
	}

	s := &Server{
		logger:         logger,
		metrics:        workerMetrics,
		service:        opts.ServiceName,
		processor:      processor,
		deliverer:      deliverer,
		emails:         emails,
		ocrLimiter:     rate.NewLimiter(rate.Limit(opts.OCRRatePerSecond), 1),
		webhookLimiter: rate.NewLimiter(rate.Limit(opts.WebhookRatePerSecond), 5),
	}

	s.srv = asynq.NewServer(redis, asynq.Config{
		Concurrency:    opts.Concurrency,
		Queues:         QueueWeights(),
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskOCRProcess, s.handleOCR)
	mux.HandleFunc(TaskWebhookDelivery, s.handleWebhookDelivery)
	mux.HandleFunc(TaskEmailSend, s.handleEmailSend)
	s.mux = mux

	return s
}

func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// retryDelay honors the delay a pipeline outcome requested. OCR retries widen
// the requested base exponentially with the attempt number; webhook retries
// come pre-computed from the persisted retry count and are used as-is.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	var retry *retryAfterError
	if !errors.As(err, &retry) {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	if task.Type() == TaskOCRProcess && n > 0 {
		return retry.delay * time.Duration(1<<uint(n))
	}
	return retry.delay
}

func (s *Server) handleOCR(ctx context.Context, task *asynq.Task) error {
	var payload OCRPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode ocr payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := s.ocrLimiter.Wait(ctx); err != nil {
		return err
	}

	s.metrics.StartDocument()
	started := time.Now()
	outcome := s.processor.ProcessByID(ctx, payload.DocumentID)
	elapsed := time.Since(started)

	switch outcome.Kind {
	case domain.OutcomeSuccess:
		s.metrics.FinishDocument(s.service, "success", elapsed)
		s.logger.Info("document processed", "document_id", payload.DocumentID, "duration", elapsed)
		return nil

	case domain.OutcomeTerminal:
		s.metrics.FinishDocument(s.service, "terminal", elapsed)
		s.logger.Warn("document processing failed terminally",
			"document_id", payload.DocumentID, "error", outcome.Err)
		return fmt.Errorf("process document %s: %v: %w", payload.DocumentID, outcome.Err, asynq.SkipRetry)

	default:
		s.metrics.FinishDocument(s.service, "retryable", elapsed)
		if s.exhausted(ctx) {
			if err := s.processor.MarkFailed(ctx, payload.DocumentID, outcome.Err.Error()); err != nil {
				s.logger.Error("mark document failed", "document_id", payload.DocumentID, "error", err)
			}
		}
		return &retryAfterError{delay: outcome.Delay, err: outcome.Err}
	}
}

func (s *Server) handleWebhookDelivery(ctx context.Context, task *asynq.Task) error {
	var payload WebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := s.webhookLimiter.Wait(ctx); err != nil {
		return err
	}

	outcome := s.deliverer.Deliver(ctx, payload.WebhookID)
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		s.metrics.RecordDelivery(s.service, "success")
		return nil

	case domain.OutcomeTerminal:
		// The dispatcher already recorded the failed state on the record.
		s.metrics.RecordDelivery(s.service, "terminal")
		s.logger.Warn("webhook delivery abandoned", "webhook_id", payload.WebhookID, "error", outcome.Err)
		return fmt.Errorf("deliver webhook %s: %v: %w", payload.WebhookID, outcome.Err, asynq.SkipRetry)

	default:
		s.metrics.RecordDelivery(s.service, "retryable")
		return &retryAfterError{delay: outcome.Delay, err: outcome.Err}
	}
}

func (s *Server) handleEmailSend(ctx context.Context, task *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
	}

	outcome := s.emails.SendByID(ctx, payload.EmailID)
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		s.metrics.RecordEmailSend(s.service, "success")
		return nil

	case domain.OutcomeTerminal:
		s.metrics.RecordEmailSend(s.service, "terminal")
		return fmt.Errorf("send email %s: %v: %w", payload.EmailID, outcome.Err, asynq.SkipRetry)

	default:
		s.metrics.RecordEmailSend(s.service, "retryable")
		if s.exhausted(ctx) {
			if err := s.emails.MarkSendFailed(ctx, payload.EmailID, outcome.Err.Error()); err != nil {
				s.logger.Error("mark email failed", "email_id", payload.EmailID, "error", err)
			}
		}
		return &retryAfterError{delay: outcome.Delay, err: outcome.Err}
	}
}

// exhausted reports whether the current attempt is the task's last.
func (s *Server) exhausted(ctx context.Context) bool {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}
