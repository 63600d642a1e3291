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

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	metaJSON, err := marshalMeta(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, application_id, document_type, filename, storage_path, classification,
	status, confidence_score, error_message, metadata, uploaded_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		doc.ID, doc.ApplicationID, string(doc.Type), doc.Filename, doc.StoragePath, doc.Classification,
		string(doc.Status), doc.ConfidenceScore, doc.ErrorMessage, metaJSON,
		doc.UploadedAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, application_id, document_type, filename, storage_path, classification,
	status, confidence_score, error_message, metadata, uploaded_at, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListByApplication(ctx context.Context, applicationID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, application_id, document_type, filename, storage_path, classification,
	status, confidence_score, error_message, metadata, uploaded_at, created_at, updated_at
FROM documents
WHERE application_id = $1
ORDER BY created_at DESC
`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(res, "document", id)
}

// MergeMetadata patches the JSONB document metadata in place, preserving keys
// the patch does not mention.
func (r *DocumentRepository) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET metadata = metadata || $2::jsonb, updated_at = $3
WHERE id = $1
`, id, patchJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("merge document metadata: %w", err)
	}
	return requireRow(res, "document", id)
}

// SaveProcessingResult writes the OCR result row and the document's terminal
// state in one transaction. A crash between the two writes would otherwise
// strand a document in processing with a result it never reflects.
func (r *DocumentRepository) SaveProcessingResult(ctx context.Context, doc *domain.Document, result *domain.OCRResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	confJSON, err := json.Marshal(result.WordConfidences)
	if err != nil {
		return fmt.Errorf("marshal word confidences: %w", err)
	}
	resultMetaJSON, err := marshalMeta(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal result metadata: %w", err)
	}
	docMetaJSON, err := marshalMeta(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO ocr_results (
	id, document_id, extracted_text, confidence_score, word_confidences,
	status, error_message, metadata, created_at, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		result.ID, result.DocumentID, result.ExtractedText, result.ConfidenceScore, confJSON,
		string(result.Status), result.ErrorMessage, resultMetaJSON, result.CreatedAt, result.ProcessedAt,
	); err != nil {
		return fmt.Errorf("insert ocr result: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE documents
SET status = $2, confidence_score = $3, error_message = $4, metadata = metadata || $5::jsonb, updated_at = $6
WHERE id = $1
`, doc.ID, string(doc.Status), doc.ConfidenceScore, doc.ErrorMessage, docMetaJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document terminal state: %w", err)
	}
	if err := requireRow(res, "document", doc.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result tx: %w", err)
	}
	return nil
}

// ResetForReprocessing performs the explicit terminal -> pending transition.
// Documents still pending or processing are left alone.
func (r *DocumentRepository) ResetForReprocessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, confidence_score = NULL, error_message = '', updated_at = $3
WHERE id = $1 AND status IN ('processed', 'needs_review', 'failed')
`, id, string(domain.StatusPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	return requireRow(res, "document", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var docType, status string
	var classification sql.NullString
	var score sql.NullFloat64
	var errMessage sql.NullString
	var metaRaw []byte

	err := row.Scan(
		&doc.ID, &doc.ApplicationID, &docType, &doc.Filename, &doc.StoragePath, &classification,
		&status, &score, &errMessage, &metaRaw, &doc.UploadedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	doc.Classification = classification.String
	doc.ErrorMessage = errMessage.String
	if score.Valid {
		doc.ConfidenceScore = &score.Float64
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func requireRow(res sql.Result, entity, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update "+entity, fmt.Errorf("%s %s", entity, id))
	}
	return nil
}
