package repository

import (
	"fmt"
	"os"

	"collab-jobs/core/models"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Seed is reference data loaded at startup. Organization and collaboration
// management live outside this service; the seed file stands in for them in
// development deployments.
type Seed struct {
	Collaborations []SeedCollaboration `yaml:"collaborations"`
	Participants   []SeedParticipant   `yaml:"participants"`
	Datasets       []SeedDataset       `yaml:"datasets"`
	Consents       []SeedConsent       `yaml:"consents"`
}

type SeedCollaboration struct {
	ID         string `yaml:"id"`
	OwnerOrgID string `yaml:"owner_org_id"`
	Name       string `yaml:"name"`
	Purpose    string `yaml:"purpose"`
}

type SeedParticipant struct {
	CollaborationID string                 `yaml:"collaboration_id"`
	OrgID           string                 `yaml:"org_id"`
	Role            models.ParticipantRole `yaml:"role"`
}

type SeedDataset struct {
	ID          string                 `yaml:"id"`
	OrgID       string                 `yaml:"org_id"`
	Name        string                 `yaml:"name"`
	Connector   map[string]interface{} `yaml:"connector"`
	ResourceURI string                 `yaml:"resource_uri"`
}

type SeedConsent struct {
	ID            string `yaml:"id"`
	DatasetID     string `yaml:"dataset_id"`
	Purpose       string `yaml:"purpose"`
	Jurisdiction  string `yaml:"jurisdiction"`
	RetentionDays int    `yaml:"retention_days"`
}

// LoadSeed reads a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}

	for i, c := range seed.Collaborations {
		if c.ID == "" || c.OwnerOrgID == "" {
			return nil, fmt.Errorf("seed collaboration %d: id and owner_org_id are required", i)
		}
	}
	for i, p := range seed.Participants {
		switch p.Role {
		case models.RoleProvider, models.RoleConsumer, models.RoleBoth:
		default:
			return nil, fmt.Errorf("seed participant %d: invalid role %q", i, p.Role)
		}
	}
	for i, d := range seed.Datasets {
		if d.ID == "" || d.OrgID == "" {
			return nil, fmt.Errorf("seed dataset %d: id and org_id are required", i)
		}
	}
	for i := range seed.Consents {
		if seed.Consents[i].DatasetID == "" {
			return nil, fmt.Errorf("seed consent %d: dataset_id is required", i)
		}
		if seed.Consents[i].ID == "" {
			seed.Consents[i].ID = uuid.NewString()
		}
	}

	return &seed, nil
}
