package domain

import "time"

type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusProcessing  DocumentStatus = "processing"
	StatusProcessed   DocumentStatus = "processed"
	StatusNeedsReview DocumentStatus = "needs_review"
	StatusFailed      DocumentStatus = "failed"
)

type DocumentType string

const (
	TypeBankStatement DocumentType = "bank_statement"
	TypeTaxReturn     DocumentType = "tax_return"
	TypeProfitLoss    DocumentType = "profit_loss"
	TypeBalanceSheet  DocumentType = "balance_sheet"
	TypeInvoice       DocumentType = "invoice"
	TypeOther         DocumentType = "other"
)

func ValidDocumentType(t DocumentType) bool {
	switch t {
	case TypeBankStatement, TypeTaxReturn, TypeProfitLoss, TypeBalanceSheet, TypeInvoice, TypeOther:
		return true
	}
	return false
}

type Document struct {
	ID             string         `json:"id"`
	ApplicationID  string         `json:"application_id"`
	Type           DocumentType   `json:"type"`
	Filename       string         `json:"filename"`
	StoragePath    string         `json:"storage_path"`
	Classification string         `json:"classification,omitempty"`
	Status         DocumentStatus `json:"status"`
	// ConfidenceScore is nil until the document reaches a terminal status.
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	UploadedAt      time.Time      `json:"uploaded_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
