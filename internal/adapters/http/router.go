package httpadapter

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/core/ports"
	"github.com/fundlane/mca-backend/internal/observability/metrics"
)

const serviceName = "api"

// multipartMemoryLimit caps the in-memory portion of an upload; the rest
// spills to temp files.
const multipartMemoryLimit = 8 << 20

type Router struct {
	documents  ports.DocumentRepository
	ocrResults ports.OCRResultRepository
	uploader   ports.DocumentIngestor
	webhooks   ports.WebhookService
	whReads    ports.WebhookRepository
	emails     ports.EmailService
	signer     ports.TokenSigner
	revoker    ports.TokenRevoker
	metrics    *metrics.HTTPServerMetrics

	clientID     string
	clientSecret string
	tokenTTL     time.Duration
}

func NewRouter(
	documents ports.DocumentRepository,
	ocrResults ports.OCRResultRepository,
	uploader ports.DocumentIngestor,
	webhooks ports.WebhookService,
	whReads ports.WebhookRepository,
	emails ports.EmailService,
	signer ports.TokenSigner,
	revoker ports.TokenRevoker,
	httpMetrics *metrics.HTTPServerMetrics,
	clientID, clientSecret string,
	tokenTTL time.Duration,
) *Router {
	return &Router{
		documents:    documents,
		ocrResults:   ocrResults,
		uploader:     uploader,
		webhooks:     webhooks,
		whReads:      whReads,
		emails:       emails,
		signer:       signer,
		revoker:      revoker,
		metrics:      httpMetrics,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenTTL:     tokenTTL,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/v1/auth/token", rt.issueToken)
	mux.HandleFunc("/v1/auth/revoke", rt.revokeToken)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentSubtree)
	mux.HandleFunc("/v1/webhooks", rt.registerWebhook)
	mux.HandleFunc("/v1/webhooks/", rt.webhookByID)
	mux.HandleFunc("/v1/emails", rt.queueEmail)
	mux.HandleFunc("/v1/emails/inbound", rt.ingestInboundEmail)

	handler := rt.authMiddleware(mux)
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) issueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	idOK := subtle.ConstantTimeCompare([]byte(req.ClientID), []byte(rt.clientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(rt.clientSecret)) == 1
	if !idOK || !secretOK {
		rt.metrics.RecordAuthRejection(serviceName, "bad_credentials")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid client credentials"})
		return
	}

	token, err := rt.signer.Issue(req.ClientID, map[string]any{"scope": "api"}, rt.tokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordTokenIssued(serviceName)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(rt.tokenTTL.Seconds()),
	})
}

// revokeToken blacklists the presented bearer token's ID for the token TTL,
// an upper bound on its remaining lifetime.
func (rt *Router) revokeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	token := bearerToken(r)
	_, tokenID, err := rt.signer.Verify(token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rt.revoker.Revoke(r.Context(), tokenID, rt.tokenTTL); err != nil {
		writeError(w, domain.WrapError(domain.ErrTransient, "revoke token", err))
		return
	}

	rt.metrics.RecordTokenRevoked(serviceName)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	docType := domain.DocumentType(r.FormValue("document_type"))
	doc, err := rt.uploader.Upload(
		r.Context(),
		r.FormValue("application_id"),
		docType,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordUpload(serviceName, string(doc.Type), fileHeader.Size)
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) documentSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch sub {
	case "":
		rt.getDocument(w, r, id)
	case "status":
		rt.getDocumentStatus(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		*domain.Document
		OCRResult *domain.OCRResult `json:"ocr_result,omitempty"`
	}{Document: doc}

	// The latest attempt is informational; a missing one is not an error.
	if result, err := rt.ocrResults.GetLatestByDocumentID(r.Context(), id); err == nil {
		resp.OCRResult = result
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) getDocumentStatus(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":               doc.ID,
		"status":           doc.Status,
		"confidence_score": doc.ConfidenceScore,
		"error_message":    doc.ErrorMessage,
		"last_updated":     doc.UpdatedAt.Format(time.RFC3339),
	})
}

func (rt *Router) registerWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ApplicationID string `json:"application_id"`
		Event         string `json:"event"`
		URL           string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	wh, err := rt.webhooks.Register(r.Context(), req.ApplicationID, domain.WebhookEvent(req.Event), req.URL)
	if err != nil {
		rt.metrics.RecordWebhookRegistration(serviceName, req.Event, "rejected")
		writeError(w, err)
		return
	}

	rt.metrics.RecordWebhookRegistration(serviceName, req.Event, "accepted")
	writeJSON(w, http.StatusCreated, wh)
}

func (rt *Router) webhookByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		wh, err := rt.whReads.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wh)
	case http.MethodPut:
		var req struct {
			Event string `json:"event"`
			URL   string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		wh, err := rt.webhooks.Update(r.Context(), id, domain.WebhookEvent(req.Event), req.URL)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wh)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) queueEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	email, err := rt.emails.QueueSend(r.Context(), req.Recipient, req.Subject, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, email)
}

func (rt *Router) ingestInboundEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ApplicationID string `json:"application_id"`
		Sender        string `json:"sender"`
		Subject       string `json:"subject"`
		Body          string `json:"body"`
		Attachments   []struct {
			Filename    string `json:"filename"`
			ContentType string `json:"content_type"`
			Content     string `json:"content"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	attachments := make([]domain.EmailAttachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				map[string]string{"error": "attachment " + att.Filename + " is not valid base64"})
			return
		}
		attachments = append(attachments, domain.EmailAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     content,
		})
	}

	email, err := rt.emails.IngestInbound(r.Context(), req.ApplicationID, req.Sender, req.Subject, req.Body, attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, email)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
