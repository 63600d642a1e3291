package usecase

import (
	"context"
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

// UploadDocumentUseCase stores the raw file, creates the pending document
// record and hands processing to the queue. The request path does no OCR work.
type UploadDocumentUseCase struct {
	repo              ports.DocumentRepository
	storage           ports.ObjectStorage
	queue             ports.TaskQueue
	notifier          EventNotifier
	allowedExtensions []string
	maxUploadBytes    int64
}

func NewUploadDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.TaskQueue,
	notifier EventNotifier,
	allowedExtensions []string,
	maxUploadBytes int64,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		repo:              repo,
		storage:           storage,
		queue:             queue,
		notifier:          notifier,
		allowedExtensions: allowedExtensions,
		maxUploadBytes:    maxUploadBytes,
	}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	applicationID string,
	docType domain.DocumentType,
	filename, contentType string,
	size int64,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(applicationID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "upload document", fmt.Errorf("application_id is required"))
	}
	if !domain.ValidDocumentType(docType) {
		return nil, domain.WrapError(domain.ErrValidation, "upload document", fmt.Errorf("unknown document type %q", docType))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !extensionIn(ext, uc.allowedExtensions) {
		return nil, domain.WrapError(domain.ErrValidation, "upload document", fmt.Errorf("unsupported file format %q", ext))
	}
	if uc.maxUploadBytes > 0 && size > uc.maxUploadBytes {
		return nil, domain.WrapError(domain.ErrValidation, "upload document",
			fmt.Errorf("file size %d exceeds limit %d", size, uc.maxUploadBytes))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body, size, contentType); err != nil {
		return nil, domain.WrapError(domain.ErrTransient, "store upload", err)
	}

	doc := &domain.Document{
		ID:            id,
		ApplicationID: applicationID,
		Type:          docType,
		Filename:      filename,
		StoragePath:   storageKey,
		Status:        domain.StatusPending,
		UploadedAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.queue.EnqueueOCR(ctx, doc.ID); err != nil {
		return nil, domain.WrapError(domain.ErrTransient, "enqueue ocr", err)
	}

	if uc.notifier != nil {
		err := uc.notifier.NotifyEvent(ctx, applicationID, domain.EventDocumentUploaded, map[string]any{
			"document_id":   doc.ID,
			"document_type": string(docType),
			"filename":      filename,
			"uploaded_at":   now.Format(time.RFC3339),
		})
		if err != nil {
			slog.Warn("notify document.uploaded", "document_id", doc.ID, "error", err)
		}
	}

	return doc, nil
}

func extensionIn(ext string, allowed []string) bool {
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
