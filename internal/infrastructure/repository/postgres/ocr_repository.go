package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

type OCRResultRepository struct {
	db *sql.DB
}

func NewOCRResultRepository(db *sql.DB) *OCRResultRepository {
	return &OCRResultRepository{db: db}
}

func (r *OCRResultRepository) GetLatestByDocumentID(ctx context.Context, documentID string) (*domain.OCRResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, extracted_text, confidence_score, word_confidences,
	status, error_message, metadata, created_at, processed_at
FROM ocr_results
WHERE document_id = $1
ORDER BY processed_at DESC
LIMIT 1
`, documentID)

	var result domain.OCRResult
	var status string
	var errMessage sql.NullString
	var confRaw, metaRaw []byte

	err := row.Scan(
		&result.ID, &result.DocumentID, &result.ExtractedText, &result.ConfidenceScore, &confRaw,
		&status, &errMessage, &metaRaw, &result.CreatedAt, &result.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ocr result", fmt.Errorf("document %s", documentID))
		}
		return nil, fmt.Errorf("scan ocr result: %w", err)
	}

	result.Status = domain.DocumentStatus(status)
	result.ErrorMessage = errMessage.String
	if err := json.Unmarshal(confRaw, &result.WordConfidences); err != nil {
		return nil, fmt.Errorf("unmarshal word confidences: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &result.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &result, nil
}
