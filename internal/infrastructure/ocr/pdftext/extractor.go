package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

const engineName = "pdf-text-layer"

// fullConfidence is assigned per extracted word: a born-digital text layer
// carries no recognition uncertainty.
const fullConfidence = 100.0

// Extractor pulls the embedded text layer out of PDFs, bypassing the OCR
// engine entirely. Scanned PDFs without a text layer come back empty and
// score to zero downstream.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, raw []byte) (domain.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	total := reader.NumPage()
	for page := 1; page <= total; page++ {
		p := reader.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("extract page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}

	text := strings.TrimSpace(builder.String())
	words := strings.Fields(text)
	confidences := make([]float64, len(words))
	for i := range confidences {
		confidences[i] = fullConfidence
	}

	return domain.Extraction{
		Text:            text,
		WordConfidences: confidences,
		Engine:          engineName,
	}, nil
}
