package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/core/ports"
)

// ProcessingPolicy bounds the pipeline's transient-failure retries. The queue
// substrate owns the actual rescheduling; the pipeline only suggests the delay.
type ProcessingPolicy struct {
	AllowedExtensions []string
	RetryBaseDelay    time.Duration
	Thresholds        domain.Thresholds
}

func DefaultProcessingPolicy() ProcessingPolicy {
	return ProcessingPolicy{
		AllowedExtensions: []string{".pdf", ".png", ".jpg", ".jpeg", ".tiff"},
		RetryBaseDelay:    time.Minute,
		Thresholds:        domain.DefaultThresholds(),
	}
}

// EventNotifier fans an event out to registered webhooks.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, applicationID string, event domain.WebhookEvent, data map[string]any) error
}

// ProcessDocumentUseCase drives one document through preprocessing, text
// extraction, confidence scoring and status resolution. It is stateless
// between invocations and safe to run concurrently across documents; the
// caller guarantees at most one active attempt per document.
type ProcessDocumentUseCase struct {
	repo         ports.DocumentRepository
	storage      ports.ObjectStorage
	preprocessor ports.ImagePreprocessor
	engine       ports.OCREngine
	pdfText      ports.TextLayerExtractor
	notifier     EventNotifier
	policy       ProcessingPolicy
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	preprocessor ports.ImagePreprocessor,
	engine ports.OCREngine,
	pdfText ports.TextLayerExtractor,
	notifier EventNotifier,
	policy ProcessingPolicy,
) *ProcessDocumentUseCase {
	if len(policy.AllowedExtensions) == 0 {
		policy = DefaultProcessingPolicy()
	}
	return &ProcessDocumentUseCase{
		repo:         repo,
		storage:      storage,
		preprocessor: preprocessor,
		engine:       engine,
		pdfText:      pdfText,
		notifier:     notifier,
		policy:       policy,
	}
}

// ProcessByID runs one processing attempt. Validation and processing failures
// are recorded on the document and reported as terminal; infrastructure
// failures come back retryable with the suggested backoff base.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) domain.Outcome {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return domain.TerminalFailure(err)
		}
		return domain.RetryableFailure(uc.policy.RetryBaseDelay, domain.WrapError(domain.ErrTransient, "load document", err))
	}

	if domain.IsTerminal(doc.Status) {
		return domain.TerminalFailure(domain.WrapError(domain.ErrValidation, "process document",
			fmt.Errorf("document %s already in terminal status %s", doc.ID, doc.Status)))
	}

	ext := strings.ToLower(filepath.Ext(doc.StoragePath))
	if !uc.extensionAllowed(ext) {
		return uc.failTerminal(ctx, doc, domain.WrapError(domain.ErrValidation, "validate format",
			fmt.Errorf("unsupported file format %q", ext)))
	}

	// Only the first attempt sees pending; retries resume from processing.
	if doc.Status == domain.StatusPending {
		if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusProcessing, ""); err != nil {
			return uc.failRetryable(ctx, doc, domain.WrapError(domain.ErrTransient, "mark processing", err))
		}
		doc.Status = domain.StatusProcessing
	}

	started := time.Now().UTC()

	raw, err := uc.readSource(ctx, doc.StoragePath)
	if err != nil {
		return uc.failRetryable(ctx, doc, domain.WrapError(domain.ErrTransient, "fetch source object", err))
	}

	extraction, err := uc.extract(ctx, ext, raw)
	if err != nil {
		return uc.failTerminal(ctx, doc, domain.WrapError(domain.ErrProcessing, "extract text", err))
	}

	score := ScoreExtraction(extraction.Text, extraction.WordConfidences)
	status := uc.policy.Thresholds.ResolveStatus(score)

	processedKey := strings.TrimSuffix(doc.StoragePath, ext) + ".txt"
	if err := uc.storage.SaveProcessed(ctx, processedKey, []byte(extraction.Text)); err != nil {
		return uc.failRetryable(ctx, doc, domain.WrapError(domain.ErrTransient, "store processed artifact", err))
	}

	now := time.Now().UTC()
	result := &domain.OCRResult{
		ID:              uuid.NewString(),
		DocumentID:      doc.ID,
		ExtractedText:   extraction.Text,
		ConfidenceScore: score,
		WordConfidences: extraction.WordConfidences,
		Status:          status,
		Metadata: map[string]any{
			"engine":     extraction.Engine,
			"word_count": len(strings.Fields(extraction.Text)),
			"image_quality": map[string]any{
				"width":  extraction.ImageWidth,
				"height": extraction.ImageHeight,
			},
			"processing_seconds": now.Sub(started).Seconds(),
		},
		CreatedAt:   started,
		ProcessedAt: now,
	}
	if status == domain.StatusFailed {
		result.ErrorMessage = fmt.Sprintf("confidence score %.4f below review threshold %.2f",
			score, uc.policy.Thresholds.ManualReview)
	}

	doc.Status = status
	doc.ConfidenceScore = &score
	doc.ErrorMessage = result.ErrorMessage
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["ocr_processing"] = map[string]any{
		"completed_at":     now.Format(time.RFC3339),
		"confidence_score": score,
		"status":           string(status),
		"processed_key":    processedKey,
	}

	if err := uc.repo.SaveProcessingResult(ctx, doc, result); err != nil {
		return uc.failRetryable(ctx, doc, domain.WrapError(domain.ErrTransient, "persist processing result", err))
	}

	uc.notify(ctx, doc, score, now.Sub(started).Seconds())

	return domain.Success()
}

// MarkFailed records the terminal failure once the substrate has exhausted
// retries, leaving the last error on the document instead of losing it.
func (uc *ProcessDocumentUseCase) MarkFailed(ctx context.Context, documentID, reason string) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, reason); err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return uc.repo.MergeMetadata(ctx, documentID, map[string]any{
		"last_error": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"error":     reason,
		},
	})
}

func (uc *ProcessDocumentUseCase) extensionAllowed(ext string) bool {
	for _, allowed := range uc.policy.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (uc *ProcessDocumentUseCase) readSource(ctx context.Context, key string) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (uc *ProcessDocumentUseCase) extract(ctx context.Context, ext string, raw []byte) (domain.Extraction, error) {
	if ext == ".pdf" {
		return uc.pdfText.Extract(ctx, raw)
	}

	prepared, width, height, err := uc.preprocessor.Prepare(raw)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("preprocess image: %w", err)
	}
	extraction, err := uc.engine.Recognize(ctx, prepared)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("recognize text: %w", err)
	}
	extraction.ImageWidth = width
	extraction.ImageHeight = height
	return extraction, nil
}

// failTerminal records the failure on the document and reports it terminal.
// Callers observe the outcome through entity state, not a propagated error.
func (uc *ProcessDocumentUseCase) failTerminal(ctx context.Context, doc *domain.Document, cause error) domain.Outcome {
	if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark document failed", "document_id", doc.ID, "error", err)
	}
	return domain.TerminalFailure(cause)
}

// failRetryable leaves the document resumable and stamps the error into its
// metadata so the attempt history survives the retry.
func (uc *ProcessDocumentUseCase) failRetryable(ctx context.Context, doc *domain.Document, cause error) domain.Outcome {
	patch := map[string]any{
		"last_error": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"error":     cause.Error(),
		},
	}
	if err := uc.repo.MergeMetadata(ctx, doc.ID, patch); err != nil {
		slog.Warn("record transient error", "document_id", doc.ID, "error", err)
	}
	return domain.RetryableFailure(uc.policy.RetryBaseDelay, cause)
}

func (uc *ProcessDocumentUseCase) notify(ctx context.Context, doc *domain.Document, score, processingSeconds float64) {
	if uc.notifier == nil {
		return
	}
	err := uc.notifier.NotifyEvent(ctx, doc.ApplicationID, domain.EventApplicationProcessed, map[string]any{
		"document_id":        doc.ID,
		"document_type":      string(doc.Type),
		"status":             string(doc.Status),
		"confidence_score":   score,
		"processing_seconds": processingSeconds,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("notify application.processed", "document_id", doc.ID, "error", err)
	}
}
