package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type docRepoFake struct {
	doc         *domain.Document
	getErr      error
	createErr   error
	statusErr   error
	saveErr     error
	created     []*domain.Document
	statusCalls []statusCall
	savedDoc    *domain.Document
	savedResult *domain.OCRResult
	patches     []map[string]any
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *docRepoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	return f.statusErr
}

func (f *docRepoFake) MergeMetadata(_ context.Context, _ string, patch map[string]any) error {
	f.patches = append(f.patches, patch)
	return nil
}

func (f *docRepoFake) SaveProcessingResult(_ context.Context, doc *domain.Document, result *domain.OCRResult) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedDoc = doc
	f.savedResult = result
	return nil
}

func (f *docRepoFake) ResetForReprocessing(context.Context, string) error { return nil }

type storageFake struct {
	objects      map[string][]byte
	saveErr      error
	openErr      error
	saveProcErr  error
	savedKeys    []string
	processedKey string
	processed    []byte
}

func (f *storageFake) Save(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedKeys = append(f.savedKeys, key)
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

func (f *storageFake) SaveProcessed(_ context.Context, key string, data []byte) error {
	if f.saveProcErr != nil {
		return f.saveProcErr
	}
	f.processedKey = key
	f.processed = data
	return nil
}

type preprocessorFake struct {
	err error
}

func (f *preprocessorFake) Prepare(raw []byte) ([]byte, int, int, error) {
	if f.err != nil {
		return nil, 0, 0, f.err
	}
	return raw, 800, 600, nil
}

type engineFake struct {
	extraction domain.Extraction
	err        error
	calls      int
}

func (f *engineFake) Recognize(context.Context, []byte) (domain.Extraction, error) {
	f.calls++
	if f.err != nil {
		return domain.Extraction{}, f.err
	}
	return f.extraction, nil
}

type pdfTextFake struct {
	extraction domain.Extraction
	err        error
	calls      int
}

func (f *pdfTextFake) Extract(context.Context, []byte) (domain.Extraction, error) {
	f.calls++
	if f.err != nil {
		return domain.Extraction{}, f.err
	}
	return f.extraction, nil
}

type notifierFake struct {
	events []domain.WebhookEvent
	data   []map[string]any
	err    error
}

func (f *notifierFake) NotifyEvent(_ context.Context, _ string, event domain.WebhookEvent, data map[string]any) error {
	f.events = append(f.events, event)
	f.data = append(f.data, data)
	return f.err
}

func tenWords() string {
	return strings.Repeat("word ", 10)
}

func newProcessUC(repo *docRepoFake, storage *storageFake, engine *engineFake, pdf *pdfTextFake, notifier *notifierFake) *ProcessDocumentUseCase {
	return NewProcessDocumentUseCase(repo, storage, &preprocessorFake{}, engine, pdf, notifier, DefaultProcessingPolicy())
}

func TestProcessByIDSuccessHighConfidence(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:            "doc-1",
		ApplicationID: "app-1",
		Type:          domain.TypeBankStatement,
		StoragePath:   "doc-1_statement.png",
		Status:        domain.StatusPending,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_statement.png": []byte("img")}}
	engine := &engineFake{extraction: domain.Extraction{
		Text:            tenWords(),
		WordConfidences: []float64{99, 99, 99, 99, 99, 99, 99, 99, 99, 99},
		Engine:          "tesseract",
	}}
	notifier := &notifierFake{}
	uc := newProcessUC(repo, storage, engine, &pdfTextFake{}, notifier)

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeSuccess {
		t.Fatalf("ProcessByID() outcome = %+v", outcome)
	}
	if len(repo.statusCalls) != 1 || repo.statusCalls[0].status != domain.StatusProcessing {
		t.Fatalf("unexpected status sequence: %+v", repo.statusCalls)
	}
	if repo.savedResult == nil || repo.savedResult.Status != domain.StatusProcessed {
		t.Fatalf("expected processed result, got %+v", repo.savedResult)
	}
	if repo.savedDoc.ConfidenceScore == nil || *repo.savedDoc.ConfidenceScore < 0.95 {
		t.Fatalf("expected auto-approve score, got %+v", repo.savedDoc.ConfidenceScore)
	}
	if storage.processedKey != "doc-1_statement.txt" {
		t.Fatalf("unexpected processed key: %s", storage.processedKey)
	}
	if len(notifier.events) != 1 || notifier.events[0] != domain.EventApplicationProcessed {
		t.Fatalf("expected application.processed event, got %+v", notifier.events)
	}
}

func TestProcessByIDRoutesMidConfidenceToReview(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.jpg",
		Status:      domain.StatusPending,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_scan.jpg": []byte("img")}}
	// 4 words, base 0.9725, factors (0.8 + 1.1)/2 -> 0.9239: below auto-approve.
	engine := &engineFake{extraction: domain.Extraction{
		Text:            "Invoice Total $500 USD",
		WordConfidences: []float64{98, 97, 95, 99},
	}}
	uc := newProcessUC(repo, storage, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeSuccess {
		t.Fatalf("ProcessByID() outcome = %+v", outcome)
	}
	if repo.savedResult.Status != domain.StatusNeedsReview {
		t.Fatalf("expected needs_review, got %s", repo.savedResult.Status)
	}
	if repo.savedResult.ErrorMessage != "" {
		t.Fatalf("needs_review should carry no error message, got %q", repo.savedResult.ErrorMessage)
	}
}

func TestProcessByIDFailsLowConfidenceWithReason(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.jpg",
		Status:      domain.StatusPending,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_scan.jpg": []byte("img")}}
	engine := &engineFake{extraction: domain.Extraction{
		Text:            "blurry text",
		WordConfidences: []float64{30, 35},
	}}
	uc := newProcessUC(repo, storage, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeSuccess {
		t.Fatalf("scoring below threshold is a completed attempt, got %+v", outcome)
	}
	if repo.savedResult.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", repo.savedResult.Status)
	}
	if repo.savedResult.ErrorMessage == "" {
		t.Fatalf("expected confidence failure reason on the result")
	}
}

func TestProcessByIDUnsupportedFormatIsTerminal(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_report.docx",
		Status:      domain.StatusPending,
	}}
	engine := &engineFake{}
	uc := newProcessUC(repo, &storageFake{}, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %+v", outcome)
	}
	if !domain.IsKind(outcome.Err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", outcome.Err)
	}
	if len(repo.statusCalls) != 1 || repo.statusCalls[0].status != domain.StatusFailed {
		t.Fatalf("expected single failed status update, got %+v", repo.statusCalls)
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not run for unsupported formats")
	}
}

func TestProcessByIDStorageErrorIsRetryable(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.png",
		Status:      domain.StatusPending,
	}}
	storage := &storageFake{openErr: errors.New("connection reset")}
	uc := newProcessUC(repo, storage, &engineFake{}, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeRetryable {
		t.Fatalf("expected retryable outcome, got %+v", outcome)
	}
	if outcome.Delay != DefaultProcessingPolicy().RetryBaseDelay {
		t.Fatalf("unexpected retry delay: %v", outcome.Delay)
	}
	// Transient failures leave the document resumable, never failed.
	for _, call := range repo.statusCalls {
		if call.status == domain.StatusFailed {
			t.Fatalf("transient failure must not mark the document failed: %+v", repo.statusCalls)
		}
	}
	if len(repo.patches) != 1 {
		t.Fatalf("expected last_error metadata patch, got %+v", repo.patches)
	}
}

func TestProcessByIDEngineErrorIsTerminal(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.png",
		Status:      domain.StatusPending,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_scan.png": []byte("img")}}
	engine := &engineFake{err: errors.New("corrupt image")}
	uc := newProcessUC(repo, storage, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %+v", outcome)
	}
	if !domain.IsKind(outcome.Err, domain.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", outcome.Err)
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusFailed || last.errMsg == "" {
		t.Fatalf("expected failed status with reason, got %+v", last)
	}
}

func TestProcessByIDPDFSkipsEngine(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_statement.pdf",
		Status:      domain.StatusPending,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_statement.pdf": []byte("%PDF")}}
	engine := &engineFake{}
	pdf := &pdfTextFake{extraction: domain.Extraction{
		Text:            tenWords(),
		WordConfidences: []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
		Engine:          "pdf-text-layer",
	}}
	uc := newProcessUC(repo, storage, engine, pdf, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeSuccess {
		t.Fatalf("ProcessByID() outcome = %+v", outcome)
	}
	if pdf.calls != 1 || engine.calls != 0 {
		t.Fatalf("expected text-layer path, got pdf=%d engine=%d", pdf.calls, engine.calls)
	}
}

func TestProcessByIDTerminalStatusIsNotReprocessed(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.png",
		Status:      domain.StatusProcessed,
	}}
	engine := &engineFake{}
	uc := newProcessUC(repo, &storageFake{}, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeTerminal {
		t.Fatalf("expected terminal outcome for terminal document, got %+v", outcome)
	}
	if len(repo.statusCalls) != 0 || engine.calls != 0 {
		t.Fatalf("terminal document must not be touched: %+v", repo.statusCalls)
	}
}

func TestProcessByIDNotFoundIsTerminal(t *testing.T) {
	repo := &docRepoFake{getErr: domain.WrapError(domain.ErrNotFound, "load document", errors.New("no rows"))}
	uc := newProcessUC(repo, &storageFake{}, &engineFake{}, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "missing")
	if outcome.Kind != domain.OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %+v", outcome)
	}
}

func TestProcessByIDRetryResumesFromProcessing(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{
		ID:          "doc-1",
		StoragePath: "doc-1_scan.png",
		Status:      domain.StatusProcessing,
	}}
	storage := &storageFake{objects: map[string][]byte{"doc-1_scan.png": []byte("img")}}
	engine := &engineFake{extraction: domain.Extraction{
		Text:            tenWords(),
		WordConfidences: []float64{99, 99, 99, 99, 99, 99, 99, 99, 99, 99},
	}}
	uc := newProcessUC(repo, storage, engine, &pdfTextFake{}, &notifierFake{})

	outcome := uc.ProcessByID(context.Background(), "doc-1")
	if outcome.Kind != domain.OutcomeSuccess {
		t.Fatalf("ProcessByID() outcome = %+v", outcome)
	}
	// No pending -> processing transition repeats on a retry.
	if len(repo.statusCalls) != 0 {
		t.Fatalf("expected no status calls on retry, got %+v", repo.statusCalls)
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	repo := &docRepoFake{doc: &domain.Document{ID: "doc-1"}}
	uc := newProcessUC(repo, &storageFake{}, &engineFake{}, &pdfTextFake{}, &notifierFake{})

	if err := uc.MarkFailed(context.Background(), "doc-1", "retries exhausted"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if len(repo.statusCalls) != 1 || repo.statusCalls[0].status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %+v", repo.statusCalls)
	}
	if repo.statusCalls[0].errMsg != "retries exhausted" {
		t.Fatalf("expected reason on status, got %q", repo.statusCalls[0].errMsg)
	}
	if len(repo.patches) != 1 {
		t.Fatalf("expected last_error metadata patch, got %+v", repo.patches)
	}
}
