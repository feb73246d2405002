package models

import "time"

// Collaboration is an agreement, owned by one organization, scoping which
// organizations may jointly run jobs
type Collaboration struct {
	ID         string
	OwnerOrgID string
	Name       string
	Purpose    string
	CreatedAt  time.Time
}

// ParticipantRole is an organization's role within a collaboration
type ParticipantRole string

const (
	RoleProvider ParticipantRole = "PROVIDER"
	RoleConsumer ParticipantRole = "CONSUMER"
	RoleBoth     ParticipantRole = "BOTH"
)

// Participant is a (collaboration, org) membership record
type Participant struct {
	CollaborationID string
	OrgID           string
	Role            ParticipantRole
}

// Dataset is a reference to data owned by exactly one organization
type Dataset struct {
	ID          string
	OrgID       string
	Name        string
	Connector   map[string]interface{}
	ResourceURI string
}

// Consent authorizes a dataset for aggregate computations
type Consent struct {
	ID            string
	DatasetID     string
	Purpose       string
	Jurisdiction  string
	RetentionDays int
	CreatedAt     time.Time
}
