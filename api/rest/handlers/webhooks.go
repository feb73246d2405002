package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"collab-jobs/api/rest/respond"
	"collab-jobs/core/apperror"
	"collab-jobs/core/webhook"
)

// WebhookHandler receives adapter callbacks
type WebhookHandler struct {
	ingestor *webhook.Ingestor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingestor *webhook.Ingestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// JobCallback is the body of a job callback
type JobCallback struct {
	JobID string        `json:"jobId"`
	Event webhook.Event `json:"event"`
}

// JobEvent handles POST /v1/webhooks/jobs
func (h *WebhookHandler) JobEvent(w http.ResponseWriter, r *http.Request) {
	var req JobCallback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respond.Error(w, apperror.New(http.StatusBadRequest, apperror.CodeInvalidEvent, fmt.Sprintf("invalid callback body: %v", err)))
		return
	}
	if req.JobID == "" || req.Event.Type == "" {
		respond.Error(w, apperror.New(http.StatusBadRequest, apperror.CodeInvalidEvent, "jobId and event.type are required"))
		return
	}

	if _, err := h.ingestor.Handle(r.Context(), req.JobID, req.Event); err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w)
}
