package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
	"github.com/flowwatch/flowwatch/pkg/vault"
)

// Service manages integration credentials. Plaintext values only exist in
// memory between the API boundary and the vault.
type Service struct {
	credentials repository.CredentialRepository
	deployments repository.DeploymentRepository
	secret      string
	logger      *slog.Logger
}

// New constructs a credential service. A missing encryption secret is a
// configuration error surfaced here, not deferred to the first call.
func New(credentials repository.CredentialRepository, deployments repository.DeploymentRepository, secret string, logger *slog.Logger) (Service, error) {
	if strings.TrimSpace(secret) == "" {
		return Service{}, vault.ErrMissingSecret
	}
	return Service{
		credentials: credentials,
		deployments: deployments,
		secret:      secret,
		logger:      logger,
	}, nil
}

// CreateInput captures attributes for a new credential.
type CreateInput struct {
	DeploymentID        string
	DisplayName         string
	Type                string
	Value               string
	ExternalReferenceID string
	ExpiresAt           *time.Time
}

// Create encrypts the supplied value and stores the credential record.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Credential, error) {
	if strings.TrimSpace(input.DeploymentID) == "" {
		return nil, fmt.Errorf("%w: deployment id required", repository.ErrInvalidArgument)
	}
	if strings.TrimSpace(input.Value) == "" {
		return nil, fmt.Errorf("%w: credential value required", repository.ErrInvalidArgument)
	}
	if _, err := s.deployments.GetDeploymentByID(ctx, input.DeploymentID); err != nil {
		return nil, err
	}
	sealed, err := vault.Encrypt(input.Value, s.secret)
	if err != nil {
		return nil, err
	}
	credential := &domain.Credential{
		Key:                 uuid.NewString(),
		DeploymentID:        input.DeploymentID,
		ExternalReferenceID: strings.TrimSpace(input.ExternalReferenceID),
		DisplayName:         strings.TrimSpace(input.DisplayName),
		Type:                strings.TrimSpace(input.Type),
		Status:              domain.CredentialStatusActive,
		EncryptedValue:      sealed,
		CreatedAt:           time.Now().UTC(),
		ExpiresAt:           input.ExpiresAt,
	}
	if err := s.credentials.CreateCredential(ctx, credential); err != nil {
		return nil, err
	}
	s.logger.Info("credential stored", "credential_key", credential.Key, "deployment_id", credential.DeploymentID)
	return credential, nil
}

// Reveal decrypts a credential's stored value. A failed decryption marks
// the credential failed so operators see it needs attention.
func (s Service) Reveal(ctx context.Context, key string) (string, error) {
	credential, err := s.credentials.GetCredentialByKey(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := vault.Decrypt(credential.EncryptedValue, s.secret)
	if err != nil {
		if errors.Is(err, vault.ErrDecrypt) {
			if markErr := s.credentials.UpdateCredentialStatus(ctx, key, domain.CredentialStatusFailed); markErr != nil {
				s.logger.Warn("failed to mark credential failed", "credential_key", key, "error", markErr)
			}
		}
		return "", err
	}
	return plain, nil
}

// Rotate replaces the stored value and returns the credential to active.
func (s Service) Rotate(ctx context.Context, key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: credential value required", repository.ErrInvalidArgument)
	}
	sealed, err := vault.Encrypt(value, s.secret)
	if err != nil {
		return err
	}
	if err := s.credentials.UpdateCredentialValue(ctx, key, sealed); err != nil {
		return err
	}
	if err := s.credentials.UpdateCredentialStatus(ctx, key, domain.CredentialStatusActive); err != nil {
		return err
	}
	s.logger.Info("credential rotated", "credential_key", key)
	return nil
}

// ListByDeployment returns credential records for a deployment. Encrypted
// values stay opaque; callers needing plaintext use Reveal.
func (s Service) ListByDeployment(ctx context.Context, deploymentID string) ([]domain.Credential, error) {
	return s.credentials.ListCredentialsByDeployment(ctx, deploymentID)
}

// UpdateStatus transitions a credential between lifecycle states.
func (s Service) UpdateStatus(ctx context.Context, key, status string) error {
	switch status {
	case domain.CredentialStatusActive, domain.CredentialStatusNeedsRefresh,
		domain.CredentialStatusFailed, domain.CredentialStatusArchived:
	default:
		return fmt.Errorf("%w: unknown credential status %q", repository.ErrInvalidArgument, status)
	}
	return s.credentials.UpdateCredentialStatus(ctx, key, status)
}
