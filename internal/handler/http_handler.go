package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/facilityops/invoice-engine/internal/apperr"
	"github.com/facilityops/invoice-engine/internal/approval"
	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/engine"
	"github.com/facilityops/invoice-engine/internal/logger"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	engine  *engine.Engine
	store   audit.Store
	replies *approval.StateMachine
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(eng *engine.Engine, store audit.Store, replies *approval.StateMachine, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine:  eng,
		store:   store,
		replies: replies,
		log:     log,
	}
}

// ValidateDocument handles document validation HTTP requests
func (h *HTTPHandler) ValidateDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Filename      string `json:"filename"`
		ContentBase64 string `json:"content_base64,omitempty"`
		Text          string `json:"text,omitempty"`
		SourceActor   string `json:"source_actor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		http.Error(w, "Filename is required", http.StatusBadRequest)
		return
	}
	if req.ContentBase64 == "" && req.Text == "" {
		http.Error(w, "Either content_base64 or text is required", http.StatusBadRequest)
		return
	}

	content := []byte(req.Text)
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			http.Error(w, "content_base64 is not valid base64", http.StatusBadRequest)
			return
		}
		content = decoded
	}

	rec, err := h.engine.ProcessDocument(r.Context(), engine.Document{
		Filename:    req.Filename,
		Content:     content,
		Text:        req.Text,
		SourceActor: req.SourceActor,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

// GetRecord handles get validation record HTTP requests
func (h *HTTPHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	referenceID := r.URL.Query().Get("reference_id")
	if referenceID == "" {
		http.Error(w, "Reference ID is required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.GetByReferenceID(r.Context(), referenceID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GetAuditTrail handles audit trail HTTP requests
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		http.Error(w, "Document ID is required", http.StatusBadRequest)
		return
	}

	events, err := h.store.EventsByDocumentID(r.Context(), documentID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": documentID,
		"events":      events,
	})
}

// SubmitReply handles decision reply HTTP requests. The messenger service
// posts inbound email replies here when NATS delivery is not configured.
func (h *HTTPHandler) SubmitReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Sender  string `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.replies.HandleReply(r.Context(), approval.Message{
		Subject:       req.Subject,
		RawBody:       req.Body,
		SenderAddress: req.Sender,
	})
	if err != nil && !apperr.Is(err, apperr.ErrCodeCorrelationFailed) {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"outcome": string(outcome)})
}

// Health handles health check HTTP requests
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperr.ErrCodeInvalidInput, apperr.ErrCodeExtractionFailed,
		apperr.ErrCodeNoVendorMatch, apperr.ErrCodeMalformedDecision:
		status = http.StatusUnprocessableEntity
	case apperr.ErrCodeConflict:
		status = http.StatusConflict
	case apperr.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}
