package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"collab-jobs/core/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-instance
// development. A single mutex makes every transition check-and-set atomic.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	collaborations map[string]models.Collaboration
	participants   map[string]map[string]models.ParticipantRole // collaboration -> org -> role
	datasets       map[string]models.Dataset
	consents       map[string][]models.Consent // dataset -> consents

	jobs   map[string]*models.Job
	events map[string][]models.JobEvent
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:            time.Now,
		collaborations: make(map[string]models.Collaboration),
		participants:   make(map[string]map[string]models.ParticipantRole),
		datasets:       make(map[string]models.Dataset),
		consents:       make(map[string][]models.Consent),
		jobs:           make(map[string]*models.Job),
		events:         make(map[string][]models.JobEvent),
	}
}

// timestamp returns a strictly increasing time so that events keep their
// append order when sorted by CreatedAt
func (s *MemoryStore) timestamp(last time.Time) time.Time {
	t := s.now().UTC()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}

func (s *MemoryStore) lastEventTime(jobID string) time.Time {
	events := s.events[jobID]
	if len(events) == 0 {
		return time.Time{}
	}
	return events[len(events)-1].CreatedAt
}

func (s *MemoryStore) appendLocked(event *models.JobEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	event.CreatedAt = s.timestamp(s.lastEventTime(event.JobID))
	s.events[event.JobID] = append(s.events[event.JobID], copyEvent(*event))
}

// CreateJob implements JobStore
func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job, initial *models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := s.timestamp(time.Time{})
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = copyJob(job)

	if initial != nil {
		initial.JobID = job.ID
		s.appendLocked(initial)
	}
	return nil
}

// GetJob implements JobStore
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

// GetJobDetail implements JobStore
func (s *MemoryStore) GetJobDetail(ctx context.Context, id string) (*models.Job, []models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	events := make([]models.JobEvent, 0, len(s.events[id]))
	for _, e := range s.events[id] {
		events = append(events, copyEvent(e))
	}
	return copyJob(job), events, nil
}

// TransitionJob implements JobStore
func (s *MemoryStore) TransitionJob(ctx context.Context, t Transition) (TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[t.JobID]
	if !ok {
		return TransitionResult{}, ErrNotFound
	}
	if !containsStatus(t.From, job.Status) {
		return TransitionResult{Applied: false, Current: job.Status}, nil
	}

	old := job.Status
	now := s.timestamp(s.lastEventTime(t.JobID))
	job.Status = t.To
	job.UpdatedAt = now
	if t.To == models.JobStatusRunning {
		job.StartedAt = &now
	}
	if t.To.IsTerminal() {
		job.FinishedAt = &now
	}
	if t.Result != nil {
		job.Result = copyMap(t.Result)
	}
	if t.ArtifactURI != nil {
		uri := *t.ArtifactURI
		job.ArtifactURI = &uri
	}

	event := t.Event
	event.JobID = t.JobID
	event.OldStatus = models.StatusPtr(old)
	event.NewStatus = models.StatusPtr(t.To)
	s.appendLocked(&event)
	stored := s.events[t.JobID][len(s.events[t.JobID])-1]

	return TransitionResult{Applied: true, OldStatus: old, Current: t.To, Event: &stored}, nil
}

// AppendEvent implements JobStore
func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[event.JobID]; !ok {
		return ErrNotFound
	}
	s.appendLocked(event)
	return nil
}

// ListJobEvents implements JobStore
func (s *MemoryStore) ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]models.JobEvent, 0, len(s.events[jobID]))
	for _, e := range s.events[jobID] {
		events = append(events, copyEvent(e))
	}
	return events, nil
}

// ListJobs implements JobStore
func (s *MemoryStore) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, job := range s.jobs {
		if !s.isMemberLocked(job.CollaborationID, f.CallerOrgID) {
			continue
		}
		if f.Type != nil && job.Type != *f.Type {
			continue
		}
		if f.Status != nil && job.Status != *f.Status {
			continue
		}
		if f.CollaborationID != "" && job.CollaborationID != f.CollaborationID {
			continue
		}
		if f.CreatedAfter != nil && job.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && job.CreatedAt.After(*f.CreatedBefore) {
			continue
		}
		if f.Query != "" && !strings.HasPrefix(job.ID, f.Query) {
			continue
		}
		matched = append(matched, job)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}

	page := make([]*models.Job, 0, end-start)
	for _, job := range matched[start:end] {
		page = append(page, copyJob(job))
	}
	return page, total, nil
}

// GetCollaboration implements CollaborationStore
func (s *MemoryStore) GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collaborations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// GetParticipant implements CollaborationStore
func (s *MemoryStore) GetParticipant(ctx context.Context, collaborationID, orgID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.participants[collaborationID][orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return &models.Participant{CollaborationID: collaborationID, OrgID: orgID, Role: role}, nil
}

// IsMember implements CollaborationStore
func (s *MemoryStore) IsMember(ctx context.Context, collaborationID, orgID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMemberLocked(collaborationID, orgID), nil
}

func (s *MemoryStore) isMemberLocked(collaborationID, orgID string) bool {
	c, ok := s.collaborations[collaborationID]
	if !ok {
		return false
	}
	if c.OwnerOrgID == orgID {
		return true
	}
	_, ok = s.participants[collaborationID][orgID]
	return ok
}

// GetDatasets implements CollaborationStore
func (s *MemoryStore) GetDatasets(ctx context.Context, ids []string) (map[string]*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*models.Dataset, len(ids))
	for _, id := range ids {
		if d, ok := s.datasets[id]; ok {
			d := d
			out[id] = &d
		}
	}
	return out, nil
}

// CountConsents implements CollaborationStore
func (s *MemoryStore) CountConsents(ctx context.Context, datasetIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(datasetIDs))
	for _, id := range datasetIDs {
		if n := len(s.consents[id]); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

// ApplySeed implements Seeder
func (s *MemoryStore) ApplySeed(ctx context.Context, seed *Seed) error {
	for _, c := range seed.Collaborations {
		s.AddCollaboration(models.Collaboration{ID: c.ID, OwnerOrgID: c.OwnerOrgID, Name: c.Name, Purpose: c.Purpose})
	}
	for _, p := range seed.Participants {
		s.AddParticipant(models.Participant{CollaborationID: p.CollaborationID, OrgID: p.OrgID, Role: p.Role})
	}
	for _, d := range seed.Datasets {
		s.AddDataset(models.Dataset{ID: d.ID, OrgID: d.OrgID, Name: d.Name, Connector: d.Connector, ResourceURI: d.ResourceURI})
	}
	for _, c := range seed.Consents {
		s.AddConsent(models.Consent{ID: c.ID, DatasetID: c.DatasetID, Purpose: c.Purpose, Jurisdiction: c.Jurisdiction, RetentionDays: c.RetentionDays})
	}
	return nil
}

// AddCollaboration registers a collaboration
func (s *MemoryStore) AddCollaboration(c models.Collaboration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.collaborations[c.ID] = c
}

// AddParticipant registers or updates a membership
func (s *MemoryStore) AddParticipant(p models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[p.CollaborationID] == nil {
		s.participants[p.CollaborationID] = make(map[string]models.ParticipantRole)
	}
	s.participants[p.CollaborationID][p.OrgID] = p.Role
}

// RemoveParticipant deletes a membership
func (s *MemoryStore) RemoveParticipant(collaborationID, orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[collaborationID], orgID)
}

// AddDataset registers a dataset
func (s *MemoryStore) AddDataset(d models.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[d.ID] = d
}

// AddConsent attaches a consent record to its dataset
func (s *MemoryStore) AddConsent(c models.Consent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.consents[c.DatasetID] = append(s.consents[c.DatasetID], c)
}

// JobCount returns the number of stored jobs
func (s *MemoryStore) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func copyJob(job *models.Job) *models.Job {
	c := *job
	c.Input = copyInput(job.Input)
	if job.ArtifactURI != nil {
		uri := *job.ArtifactURI
		c.ArtifactURI = &uri
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		c.FinishedAt = &t
	}
	c.Result = copyMap(job.Result)
	return &c
}

func copyInput(in models.JobInput) models.JobInput {
	if in.SMPC != nil {
		smpc := *in.SMPC
		smpc.DatasetIDs = append([]string(nil), in.SMPC.DatasetIDs...)
		in.SMPC = &smpc
	}
	if in.TEE != nil {
		tee := *in.TEE
		tee.DatasetIDs = append([]string(nil), in.TEE.DatasetIDs...)
		in.TEE = &tee
	}
	return in
}

// copyMap copies nested maps and slices so stored values never alias the
// caller's
func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		return copyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}

func copyEvent(e models.JobEvent) models.JobEvent {
	e.Data = copyMap(e.Data)
	return e
}
