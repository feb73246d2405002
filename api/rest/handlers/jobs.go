package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"collab-jobs/api/rest/middleware"
	"collab-jobs/api/rest/respond"
	"collab-jobs/core/apperror"
	"collab-jobs/core/lifecycle"
	"collab-jobs/core/models"
	"collab-jobs/core/spec"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const maxBodyBytes = 1 << 20

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs   *lifecycle.Controller
	logger logrus.FieldLogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs *lifecycle.Controller, logger logrus.FieldLogger) *JobHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &JobHandler{jobs: jobs, logger: logger}
}

// CreateJobRequest represents the request to create a job
type CreateJobRequest struct {
	CollaborationID string          `json:"collaborationId"`
	Type            models.JobType  `json:"type"`
	Input           json.RawMessage `json:"input"`
}

type createJobYAML struct {
	CollaborationID string         `yaml:"collaborationId"`
	Type            models.JobType `yaml:"type"`
	Input           yaml.Node      `yaml:"input"`
}

// CreateJob handles POST /v1/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respond.Error(w, apperror.Validation(fmt.Errorf("failed to read body: %w", err)))
		return
	}

	collaborationID, jobType, input, err := decodeCreateJob(r.Header.Get("Content-Type"), body)
	if err != nil {
		respond.Error(w, apperror.Validation(err))
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), principal.OrgID, collaborationID, jobType, input)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]interface{}{
		"job": map[string]interface{}{
			"id":              job.ID,
			"status":          job.Status,
			"type":            job.Type,
			"collaborationId": job.CollaborationID,
			"createdAt":       job.CreatedAt,
		},
	})
}

func decodeCreateJob(contentType string, body []byte) (string, models.JobType, models.JobInput, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/yaml" || mediaType == "application/x-yaml" || mediaType == "text/yaml" {
		var req createJobYAML
		if err := yaml.Unmarshal(body, &req); err != nil {
			return "", "", models.JobInput{}, fmt.Errorf("invalid YAML body: %w", err)
		}
		if req.Input.Kind == 0 {
			return "", "", models.JobInput{}, &spec.ValidationError{Field: "input", Reason: "required"}
		}
		raw, err := yaml.Marshal(&req.Input)
		if err != nil {
			return "", "", models.JobInput{}, fmt.Errorf("invalid input: %w", err)
		}
		input, err := spec.ParseJobInputYAML(req.Type, raw)
		return req.CollaborationID, req.Type, input, err
	}

	var req CreateJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", "", models.JobInput{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	if len(req.Input) == 0 {
		return "", "", models.JobInput{}, &spec.ValidationError{Field: "input", Reason: "required"}
	}
	input, err := spec.ParseJobInput(req.Type, req.Input)
	return req.CollaborationID, req.Type, input, err
}

// StartJob handles POST /v1/jobs/{id}/start
func (h *JobHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.jobs.StartJob(r.Context(), mux.Vars(r)["id"], principal.OrgID); err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w)
}

// CancelJobRequest is the optional body of a cancel request
type CancelJobRequest struct {
	Reason string `json:"reason"`
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req CancelJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
			respond.Error(w, apperror.Validation(fmt.Errorf("invalid JSON body: %w", err)))
			return
		}
	}

	if err := h.jobs.CancelJob(r.Context(), mux.Vars(r)["id"], principal.OrgID, req.Reason); err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w)
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	detail, err := h.jobs.GetJob(r.Context(), mux.Vars(r)["id"], principal.OrgID)
	if err != nil {
		respond.Error(w, err)
		return
	}

	events := make([]map[string]interface{}, len(detail.Events))
	for i, event := range detail.Events {
		events[i] = eventResponse(event)
	}
	job := jobResponse(detail.Job)
	job["events"] = events

	respond.JSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	filter, err := parseJobFilter(r)
	if err != nil {
		respond.Error(w, apperror.Validation(err))
		return
	}
	filter.CallerOrgID = principal.OrgID

	page, err := h.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		respond.Error(w, err)
		return
	}

	items := make([]map[string]interface{}, len(page.Jobs))
	for i, job := range page.Jobs {
		items[i] = jobResponse(job)
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"jobs":       items,
		"total":      page.Total,
		"page":       page.Page,
		"pageSize":   page.PageSize,
		"totalPages": page.TotalPages,
	})
}

func parseJobFilter(r *http.Request) (models.JobFilter, error) {
	q := r.URL.Query()
	var f models.JobFilter

	for name, dst := range map[string]*int{"page": &f.Page, "pageSize": &f.PageSize} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return f, fmt.Errorf("%s must be a positive integer", name)
			}
			*dst = n
		}
	}

	if v := q.Get("type"); v != "" {
		t := models.JobType(strings.ToUpper(v))
		if !t.Valid() {
			return f, fmt.Errorf("unknown job type %q", v)
		}
		f.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := models.JobStatus(strings.ToUpper(v))
		if !s.Valid() {
			return f, fmt.Errorf("unknown job status %q", v)
		}
		f.Status = &s
	}

	for name, dst := range map[string]**time.Time{"createdAfter": &f.CreatedAfter, "createdBefore": &f.CreatedBefore} {
		if v := q.Get(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
			}
			*dst = &ts
		}
	}

	f.CollaborationID = q.Get("collaborationId")
	f.Query = strings.TrimSpace(q.Get("q"))
	return f, nil
}

// GetArtifact handles GET /v1/jobs/{id}/artifact
func (h *JobHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	body, info, err := h.jobs.OpenArtifact(r.Context(), mux.Vars(r)["id"], principal.OrgID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(info.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.DownloadName()))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.WithError(err).WithField("job_id", info.JobID).Warn("Artifact stream interrupted")
	}
}

// GetArtifactInfo handles GET /v1/jobs/{id}/artifact/info
func (h *JobHandler) GetArtifactInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	info, err := h.jobs.GetArtifactInfo(r.Context(), mux.Vars(r)["id"], principal.OrgID)
	if err != nil {
		respond.Error(w, err)
		return
	}

	resp := map[string]interface{}{
		"exists":       info.Exists,
		"filename":     nil,
		"size":         nil,
		"lastModified": nil,
	}
	if info.Filename != "" {
		resp["filename"] = info.Filename
	}
	if info.Exists {
		resp["size"] = info.Size
		resp["lastModified"] = info.LastModified
	}
	respond.JSON(w, http.StatusOK, resp)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respond.Error(w, apperror.New(http.StatusUnauthorized, apperror.CodeUnauthorized, "missing principal"))
	}
	return p, ok
}

func jobResponse(job *models.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":              job.ID,
		"collaborationId": job.CollaborationID,
		"createdByOrgId":  job.CreatedByOrgID,
		"type":            job.Type,
		"status":          job.Status,
		"input":           spec.InputMap(job.Input),
		"result":          job.Result,
		"artifactUri":     job.ArtifactURI,
		"createdAt":       job.CreatedAt,
		"updatedAt":       job.UpdatedAt,
		"startedAt":       job.StartedAt,
		"finishedAt":      job.FinishedAt,
	}
}

func eventResponse(event models.JobEvent) map[string]interface{} {
	item := map[string]interface{}{
		"id":        event.ID,
		"type":      event.Type,
		"data":      event.Data,
		"createdAt": event.CreatedAt,
	}
	if event.OldStatus != nil {
		item["oldStatus"] = *event.OldStatus
	}
	if event.NewStatus != nil {
		item["newStatus"] = *event.NewStatus
	}
	return item
}
