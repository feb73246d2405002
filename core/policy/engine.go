// Package policy decides whether a proposed job may be admitted. It has no
// side effects: expected denials are returned as values, and only store
// failures surface as errors.
package policy

import (
	"context"
	"errors"
	"fmt"

	"collab-jobs/core/apperror"
	"collab-jobs/core/models"
	"collab-jobs/core/repository"
)

// Reason is a machine-readable denial code
type Reason string

const (
	ReasonCollabNotFoundOrForbidden Reason = apperror.CodeCollabNotFoundOrForbidden
	ReasonNotAParticipant           Reason = apperror.CodeNotAParticipant
	ReasonRoleForbidden             Reason = apperror.CodeRoleForbidden
	ReasonDatasetNotFound           Reason = apperror.CodeDatasetNotFound
	ReasonDatasetOrgNotParticipant  Reason = apperror.CodeDatasetOrgNotParticipant
	ReasonMissingConsent            Reason = apperror.CodeMissingConsent
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed   bool
	Reason    Reason
	DatasetID string // Offending dataset for dataset-level denials
}

// Admit is the allowing decision
func Admit() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denial
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into a 403-class client error, or nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	err := apperror.Forbidden(string(d.Reason))
	if d.DatasetID != "" {
		err.Message = fmt.Sprintf("%s (dataset %s)", err.Message, d.DatasetID)
	}
	return err
}

// RoleTable maps a job type to the participant roles allowed to submit it
type RoleTable map[models.JobType][]models.ParticipantRole

// DefaultRoles is the current submission policy
func DefaultRoles() RoleTable {
	return RoleTable{
		models.JobTypeSMPC: {models.RoleProvider, models.RoleConsumer, models.RoleBoth},
		models.JobTypeTEE:  {models.RoleConsumer, models.RoleBoth},
	}
}

func (t RoleTable) allows(jobType models.JobType, role models.ParticipantRole) bool {
	for _, r := range t[jobType] {
		if r == role {
			return true
		}
	}
	return false
}

// Engine evaluates job admission against the collaboration store
type Engine struct {
	store repository.CollaborationStore
	roles RoleTable
}

// NewEngine creates a policy engine with the default role table
func NewEngine(store repository.CollaborationStore) *Engine {
	return &Engine{store: store, roles: DefaultRoles()}
}

// WithRoles overrides the role table
func (e *Engine) WithRoles(roles RoleTable) *Engine {
	e.roles = roles
	return e
}

// AuthorizeJobCreation runs the admission checks in order and stops at the
// first failure
func (e *Engine) AuthorizeJobCreation(
	ctx context.Context,
	callerOrgID string,
	collaborationID string,
	jobType models.JobType,
	input models.JobInput,
) (Decision, error) {
	collab, err := e.store.GetCollaboration(ctx, collaborationID)
	if errors.Is(err, repository.ErrNotFound) {
		return Deny(ReasonCollabNotFoundOrForbidden), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load collaboration: %w", err)
	}

	role, member, err := e.roleOf(ctx, collab, callerOrgID)
	if err != nil {
		return Decision{}, err
	}
	if !member {
		return Deny(ReasonCollabNotFoundOrForbidden), nil
	}

	if role == "" {
		return Deny(ReasonNotAParticipant), nil
	}
	if !e.roles.allows(jobType, role) {
		return Deny(ReasonRoleForbidden), nil
	}

	if jobType == models.JobTypeSMPC {
		return e.checkDatasets(ctx, collab, input.DatasetIDs())
	}

	return Admit(), nil
}

// roleOf resolves the caller's effective role. The owner is implicitly a full
// participant.
func (e *Engine) roleOf(ctx context.Context, collab *models.Collaboration, orgID string) (models.ParticipantRole, bool, error) {
	if collab.OwnerOrgID == orgID {
		return models.RoleBoth, true, nil
	}

	member, err := e.store.IsMember(ctx, collab.ID, orgID)
	if err != nil {
		return "", false, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return "", false, nil
	}

	p, err := e.store.GetParticipant(ctx, collab.ID, orgID)
	if errors.Is(err, repository.ErrNotFound) {
		// Membership vanished between the two reads
		return "", true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load participant: %w", err)
	}
	return p.Role, true, nil
}

func (e *Engine) checkDatasets(ctx context.Context, collab *models.Collaboration, ids []string) (Decision, error) {
	datasets, err := e.store.GetDatasets(ctx, ids)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load datasets: %w", err)
	}
	for _, id := range ids {
		if _, ok := datasets[id]; !ok {
			return Decision{Reason: ReasonDatasetNotFound, DatasetID: id}, nil
		}
	}

	orgMember := make(map[string]bool)
	for _, id := range ids {
		orgID := datasets[id].OrgID
		member, seen := orgMember[orgID]
		if !seen {
			if orgID == collab.OwnerOrgID {
				member = true
			} else {
				member, err = e.store.IsMember(ctx, collab.ID, orgID)
				if err != nil {
					return Decision{}, fmt.Errorf("failed to check dataset owner membership: %w", err)
				}
			}
			orgMember[orgID] = member
		}
		if !member {
			return Decision{Reason: ReasonDatasetOrgNotParticipant, DatasetID: id}, nil
		}
	}

	consents, err := e.store.CountConsents(ctx, ids)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count consents: %w", err)
	}
	for _, id := range ids {
		if consents[id] == 0 {
			return Decision{Reason: ReasonMissingConsent, DatasetID: id}, nil
		}
	}

	return Admit(), nil
}
