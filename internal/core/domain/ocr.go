package domain

import "time"

// SentinelConfidence marks tokens the OCR engine produced no confidence for.
// Tesseract reports these as -1 in its word-level output.
const SentinelConfidence = -1

// Extraction is the raw output of one OCR engine invocation: the recognized
// text plus per-word confidences on the engine's native 0..100 scale.
type Extraction struct {
	Text            string
	WordConfidences []float64
	Engine          string
	ImageWidth      int
	ImageHeight     int
}

// OCRResult records one processing attempt for a document. It is written once
// by the pipeline and never mutated afterwards apart from the status the
// attempt resolved to.
type OCRResult struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	ExtractedText   string         `json:"extracted_text"`
	ConfidenceScore float64        `json:"confidence_score"`
	WordConfidences []float64      `json:"word_confidences"`
	Status          DocumentStatus `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ProcessedAt     time.Time      `json:"processed_at"`
}
