package domain

import "time"

// Credential statuses.
const (
	CredentialStatusActive       = "active"
	CredentialStatusNeedsRefresh = "needs_refresh"
	CredentialStatusFailed       = "failed"
	CredentialStatusArchived     = "archived"
)

// Credential references an integration secret owned by a deployment. The
// secret itself is stored only as the opaque EncryptedValue produced by the
// vault; plaintext never touches the store.
type Credential struct {
	Key                 string
	DeploymentID        string
	ExternalReferenceID string
	DisplayName         string
	Type                string
	Status              string
	EncryptedValue      string
	CreatedAt           time.Time
	UpdatedAt           *time.Time
	ExpiresAt           *time.Time
}
