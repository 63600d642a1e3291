package httpadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/observability/metrics"
)

type docStoreFake struct {
	doc    *domain.Document
	getErr error
}

func (f *docStoreFake) Create(context.Context, *domain.Document) error { return nil }

func (f *docStoreFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.doc == nil || f.doc.ID != id {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	copied := *f.doc
	return &copied, nil
}

func (f *docStoreFake) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}
func (f *docStoreFake) MergeMetadata(context.Context, string, map[string]any) error { return nil }
func (f *docStoreFake) SaveProcessingResult(context.Context, *domain.Document, *domain.OCRResult) error {
	return nil
}
func (f *docStoreFake) ResetForReprocessing(context.Context, string) error { return nil }

type ocrStoreFake struct {
	result *domain.OCRResult
}

func (f *ocrStoreFake) GetLatestByDocumentID(_ context.Context, documentID string) (*domain.OCRResult, error) {
	if f.result == nil || f.result.DocumentID != documentID {
		return nil, domain.WrapError(domain.ErrNotFound, "get ocr result", fmt.Errorf("document %s", documentID))
	}
	return f.result, nil
}

type uploaderFake struct {
	err           error
	applicationID string
	docType       domain.DocumentType
	filename      string
	size          int64
	body          []byte
}

func (f *uploaderFake) Upload(_ context.Context, applicationID string, docType domain.DocumentType, filename, _ string, size int64, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.applicationID = applicationID
	f.docType = docType
	f.filename = filename
	f.size = size
	f.body, _ = io.ReadAll(body)
	return &domain.Document{
		ID:            "doc-1",
		ApplicationID: applicationID,
		Type:          docType,
		Filename:      filename,
		Status:        domain.StatusPending,
	}, nil
}

type webhookServiceFake struct {
	registerErr error
	updateErr   error
	registered  *domain.Webhook
}

func (f *webhookServiceFake) Register(_ context.Context, applicationID string, event domain.WebhookEvent, url string) (*domain.Webhook, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered = &domain.Webhook{
		ID: "wh-1", ApplicationID: applicationID, Event: event, URL: url,
		Status: domain.WebhookPending,
	}
	return f.registered, nil
}

func (f *webhookServiceFake) Update(_ context.Context, webhookID string, event domain.WebhookEvent, url string) (*domain.Webhook, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &domain.Webhook{ID: webhookID, Event: event, URL: url, Status: domain.WebhookPending}, nil
}

func (f *webhookServiceFake) Deliver(context.Context, string) domain.Outcome { return domain.Success() }

func (f *webhookServiceFake) NotifyEvent(context.Context, string, domain.WebhookEvent, map[string]any) error {
	return nil
}

type webhookStoreFake struct {
	hook *domain.Webhook
}

func (f *webhookStoreFake) Create(context.Context, *domain.Webhook) error { return nil }

func (f *webhookStoreFake) GetByID(_ context.Context, id string) (*domain.Webhook, error) {
	if f.hook == nil || f.hook.ID != id {
		return nil, domain.WrapError(domain.ErrNotFound, "get webhook", fmt.Errorf("webhook %s", id))
	}
	return f.hook, nil
}

func (f *webhookStoreFake) ListByEvent(context.Context, string, domain.WebhookEvent) ([]domain.Webhook, error) {
	return nil, nil
}
func (f *webhookStoreFake) Update(context.Context, *domain.Webhook) error { return nil }

func (f *webhookStoreFake) SetPayload(context.Context, string, map[string]any) error { return nil }

type emailServiceFake struct {
	queueErr    error
	ingestErr   error
	queued      *domain.Email
	ingested    *domain.Email
	attachments []domain.EmailAttachment
}

func (f *emailServiceFake) QueueSend(_ context.Context, recipient, subject, body string) (*domain.Email, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	f.queued = &domain.Email{
		ID: "em-1", Direction: domain.EmailOutbound,
		Recipient: recipient, Subject: subject, Body: body,
		Status: domain.EmailPending,
	}
	return f.queued, nil
}

func (f *emailServiceFake) SendByID(context.Context, string) domain.Outcome { return domain.Success() }

func (f *emailServiceFake) IngestInbound(_ context.Context, applicationID, sender, subject, body string, attachments []domain.EmailAttachment) (*domain.Email, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.attachments = attachments
	f.ingested = &domain.Email{
		ID: "em-2", Direction: domain.EmailInbound,
		Sender: sender, Subject: subject, Body: body,
		Status: domain.EmailProcessed,
	}
	return f.ingested, nil
}

type tokenSignerFake struct {
	issueErr error
}

func (f *tokenSignerFake) Issue(subject string, _ map[string]any, _ time.Duration) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	return "tok-" + subject, nil
}

func (f *tokenSignerFake) Verify(token string) (string, string, error) {
	subject, ok := strings.CutPrefix(token, "tok-")
	if !ok || subject == "" {
		return "", "", domain.WrapError(domain.ErrUnauthorized, "verify token", fmt.Errorf("bad token"))
	}
	return subject, "jti-" + subject, nil
}

type revokerFake struct {
	revoked map[string]bool
}

func (f *revokerFake) Revoke(_ context.Context, tokenID string, _ time.Duration) error {
	if f.revoked == nil {
		f.revoked = map[string]bool{}
	}
	f.revoked[tokenID] = true
	return nil
}

func (f *revokerFake) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return f.revoked[tokenID], nil
}

type routerFixture struct {
	docs     *docStoreFake
	ocr      *ocrStoreFake
	uploader *uploaderFake
	webhooks *webhookServiceFake
	whStore  *webhookStoreFake
	emails   *emailServiceFake
	revoker  *revokerFake
	handler  http.Handler
}

func newTestRouter() *routerFixture {
	fx := &routerFixture{
		docs:     &docStoreFake{},
		ocr:      &ocrStoreFake{},
		uploader: &uploaderFake{},
		webhooks: &webhookServiceFake{},
		whStore:  &webhookStoreFake{},
		emails:   &emailServiceFake{},
		revoker:  &revokerFake{},
	}
	rt := NewRouter(
		fx.docs, fx.ocr, fx.uploader,
		fx.webhooks, fx.whStore, fx.emails,
		&tokenSignerFake{}, fx.revoker,
		metrics.NewHTTPServerMetrics("api"),
		"client-1", "secret-1", 30*time.Minute,
	)
	fx.handler = rt.Handler()
	return fx
}

func authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer tok-client-1")
}

func do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthzIsOpen(t *testing.T) {
	fx := newTestRouter()

	res := do(fx.handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", res.Code)
	}
}

func TestProtectedEndpointsRequireBearer(t *testing.T) {
	fx := newTestRouter()

	res := do(fx.handler, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a token", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	if res := do(fx.handler, req); res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a bad token", res.Code)
	}
}

func TestRevokedTokenIsRejected(t *testing.T) {
	fx := newTestRouter()
	fx.revoker.revoked = map[string]bool{"jti-client-1": true}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a revoked token", res.Code)
	}
}

func TestIssueTokenExchangesClientSecret(t *testing.T) {
	fx := newTestRouter()

	body := `{"client_id":"client-1","client_secret":"secret-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(body))
	res := do(fx.handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", res.Code, res.Body.String())
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken != "tok-client-1" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}
	if resp.ExpiresIn != int((30 * time.Minute).Seconds()) {
		t.Fatalf("expires_in = %d", resp.ExpiresIn)
	}
}

func TestIssueTokenRejectsBadCredentials(t *testing.T) {
	fx := newTestRouter()

	body := `{"client_id":"client-1","client_secret":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(body))
	if res := do(fx.handler, req); res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.Code)
	}
}

func TestRevokeTokenBlacklistsTokenID(t *testing.T) {
	fx := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/revoke", nil)
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", res.Code, res.Body.String())
	}
	if !fx.revoker.revoked["jti-client-1"] {
		t.Fatalf("token ID was not revoked")
	}

	follow := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	authorize(follow)
	if res := do(fx.handler, follow); res.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted, status = %d", res.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func TestUploadDocumentAccepted(t *testing.T) {
	fx := newTestRouter()

	body, contentType := multipartUpload(t, map[string]string{
		"application_id": "app-1",
		"document_type":  "bank_statement",
	}, "statement.pdf", "%PDF-1.4 fake")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	authorize(req)

	res := do(fx.handler, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", res.Code, res.Body.String())
	}
	if fx.uploader.applicationID != "app-1" || fx.uploader.docType != domain.TypeBankStatement {
		t.Fatalf("uploader got app=%q type=%q", fx.uploader.applicationID, fx.uploader.docType)
	}
	if fx.uploader.filename != "statement.pdf" {
		t.Fatalf("filename = %q", fx.uploader.filename)
	}
	if string(fx.uploader.body) != "%PDF-1.4 fake" {
		t.Fatalf("file body did not reach the uploader")
	}
}

func TestUploadDocumentValidationFailureIs400(t *testing.T) {
	fx := newTestRouter()
	fx.uploader.err = domain.WrapError(domain.ErrValidation, "upload document", fmt.Errorf("unsupported file format"))

	body, contentType := multipartUpload(t, map[string]string{
		"application_id": "app-1",
		"document_type":  "bank_statement",
	}, "statement.docx", "data")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	authorize(req)

	if res := do(fx.handler, req); res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestUploadDocumentRequiresFilePart(t *testing.T) {
	fx := newTestRouter()

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	_ = writer.WriteField("application_id", "app-1")
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	authorize(req)

	if res := do(fx.handler, req); res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestGetDocumentIncludesLatestOCRResult(t *testing.T) {
	fx := newTestRouter()
	score := 0.97
	fx.docs.doc = &domain.Document{ID: "doc-1", Status: domain.StatusProcessed, ConfidenceScore: &score}
	fx.ocr.result = &domain.OCRResult{ID: "ocr-1", DocumentID: "doc-1", ExtractedText: "hello", ConfidenceScore: score}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", res.Code, res.Body.String())
	}

	var resp struct {
		ID        string `json:"id"`
		OCRResult *struct {
			ExtractedText string `json:"extracted_text"`
		} `json:"ocr_result"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "doc-1" {
		t.Fatalf("id = %q", resp.ID)
	}
	if resp.OCRResult == nil || resp.OCRResult.ExtractedText != "hello" {
		t.Fatalf("latest ocr result missing from response: %s", res.Body.String())
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	fx := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.Code)
	}
}

func TestDocumentStatusContractNullsScoreUntilTerminal(t *testing.T) {
	fx := newTestRouter()
	fx.docs.doc = &domain.Document{ID: "doc-1", Status: domain.StatusProcessing, UpdatedAt: time.Now().UTC()}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/status", nil)
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", res.Code, res.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "processing" {
		t.Fatalf("status = %v", resp["status"])
	}
	if score, present := resp["confidence_score"]; !present || score != nil {
		t.Fatalf("confidence_score = %v, want explicit null", score)
	}
}

func TestDocumentStatusCarriesFailureReason(t *testing.T) {
	fx := newTestRouter()
	score := 0.41
	fx.docs.doc = &domain.Document{
		ID: "doc-1", Status: domain.StatusFailed,
		ConfidenceScore: &score, ErrorMessage: "confidence 0.4100 below threshold",
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/status", nil)
	authorize(req)
	res := do(fx.handler, req)

	var resp map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error_message"] != "confidence 0.4100 below threshold" {
		t.Fatalf("error_message = %v", resp["error_message"])
	}
	if resp["confidence_score"] != 0.41 {
		t.Fatalf("confidence_score = %v", resp["confidence_score"])
	}
}

func TestRegisterWebhook(t *testing.T) {
	fx := newTestRouter()

	body := `{"application_id":"app-1","event":"application.processed","url":"https://example.com/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(body))
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", res.Code, res.Body.String())
	}
	if fx.webhooks.registered == nil || fx.webhooks.registered.Event != domain.EventApplicationProcessed {
		t.Fatalf("registration did not reach the service")
	}
}

func TestRegisterWebhookProbeFailureIs502(t *testing.T) {
	fx := newTestRouter()
	fx.webhooks.registerErr = domain.WrapError(domain.ErrDelivery, "probe webhook url", fmt.Errorf("connection refused"))

	body := `{"application_id":"app-1","event":"application.processed","url":"https://dead.example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(body))
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", res.Code)
	}
}

func TestWebhookGetAndUpdate(t *testing.T) {
	fx := newTestRouter()
	fx.whStore.hook = &domain.Webhook{ID: "wh-1", Event: domain.EventDocumentUploaded, URL: "https://example.com/a"}

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/wh-1", nil)
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", res.Code, res.Body.String())
	}

	update := `{"event":"application.processed","url":"https://example.com/b"}`
	putReq := httptest.NewRequest(http.MethodPut, "/v1/webhooks/wh-1", strings.NewReader(update))
	authorize(putReq)
	putRes := do(fx.handler, putReq)
	if putRes.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", putRes.Code, putRes.Body.String())
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(putRes.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.URL != "https://example.com/b" {
		t.Fatalf("url = %q after update", resp.URL)
	}
}

func TestQueueEmail(t *testing.T) {
	fx := newTestRouter()

	body := `{"recipient":"merchant@example.com","subject":"Docs received","body":"Thanks."}`
	req := httptest.NewRequest(http.MethodPost, "/v1/emails", strings.NewReader(body))
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", res.Code, res.Body.String())
	}
	if fx.emails.queued == nil || fx.emails.queued.Recipient != "merchant@example.com" {
		t.Fatalf("email did not reach the service")
	}
}

func TestQueueEmailInvalidRecipientIs400(t *testing.T) {
	fx := newTestRouter()
	fx.emails.queueErr = domain.WrapError(domain.ErrValidation, "send email", fmt.Errorf("invalid recipient"))

	body := `{"recipient":"not-an-address","subject":"x","body":"y"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/emails", strings.NewReader(body))
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestIngestInboundEmailDecodesAttachments(t *testing.T) {
	fx := newTestRouter()

	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 statement"))
	body := fmt.Sprintf(`{
		"application_id": "app-1",
		"sender": "merchant@example.com",
		"subject": "March statements",
		"body": "attached",
		"attachments": [{"filename": "march.pdf", "content_type": "application/pdf", "content": %q}]
	}`, content)

	req := httptest.NewRequest(http.MethodPost, "/v1/emails/inbound", strings.NewReader(body))
	authorize(req)
	res := do(fx.handler, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", res.Code, res.Body.String())
	}
	if len(fx.emails.attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(fx.emails.attachments))
	}
	if string(fx.emails.attachments[0].Content) != "%PDF-1.4 statement" {
		t.Fatalf("attachment content was not base64-decoded")
	}
}

func TestIngestInboundEmailRejectsBadBase64(t *testing.T) {
	fx := newTestRouter()

	body := `{"application_id":"app-1","sender":"m@example.com","subject":"s","body":"b",
		"attachments":[{"filename":"x.pdf","content_type":"application/pdf","content":"!!!not-base64!!!"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/emails/inbound", strings.NewReader(body))
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newTestRouter()

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents", nil)
	authorize(req)
	if res := do(fx.handler, req); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.Code)
	}
}
