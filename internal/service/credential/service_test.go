package credential

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
	"github.com/flowwatch/flowwatch/pkg/vault"
)

type fakeCredentialRepo struct {
	stored        map[string]*domain.Credential
	statusUpdates []string
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{stored: make(map[string]*domain.Credential)}
}

func (f *fakeCredentialRepo) CreateCredential(_ context.Context, credential *domain.Credential) error {
	copied := *credential
	f.stored[credential.Key] = &copied
	return nil
}

func (f *fakeCredentialRepo) GetCredentialByKey(_ context.Context, key string) (*domain.Credential, error) {
	credential, ok := f.stored[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *credential
	return &copied, nil
}

func (f *fakeCredentialRepo) ListCredentialsByDeployment(_ context.Context, deploymentID string) ([]domain.Credential, error) {
	out := make([]domain.Credential, 0)
	for _, credential := range f.stored {
		if credential.DeploymentID == deploymentID {
			out = append(out, *credential)
		}
	}
	return out, nil
}

func (f *fakeCredentialRepo) UpdateCredentialStatus(_ context.Context, key, status string) error {
	credential, ok := f.stored[key]
	if !ok {
		return repository.ErrNotFound
	}
	credential.Status = status
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeCredentialRepo) UpdateCredentialValue(_ context.Context, key, encryptedValue string) error {
	credential, ok := f.stored[key]
	if !ok {
		return repository.ErrNotFound
	}
	credential.EncryptedValue = encryptedValue
	return nil
}

type fakeDeploymentSource struct {
	deployments map[string]*domain.Deployment
}

func (f *fakeDeploymentSource) CreateDeployment(context.Context, *domain.Deployment) error {
	return nil
}

func (f *fakeDeploymentSource) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	deployment, ok := f.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return deployment, nil
}

func (f *fakeDeploymentSource) ListDeploymentsByStatus(context.Context, string) ([]domain.Deployment, error) {
	return nil, nil
}

func (f *fakeDeploymentSource) CommitHealthResult(context.Context, repository.HealthCommit) error {
	return nil
}

const testSecret = "test-encryption-secret"

func newTestService(t *testing.T, credentials *fakeCredentialRepo) Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	deployments := &fakeDeploymentSource{
		deployments: map[string]*domain.Deployment{
			"dep-1": {ID: "dep-1", WorkflowName: "order-sync"},
		},
	}
	svc, err := New(credentials, deployments, testSecret, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return svc
}

func TestNewRequiresSecret(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(newFakeCredentialRepo(), &fakeDeploymentSource{}, "  ", logger)
	if !errors.Is(err, vault.ErrMissingSecret) {
		t.Fatalf("expected vault.ErrMissingSecret, got %v", err)
	}
}

func TestCreateStoresOnlyCiphertext(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	created, err := svc.Create(context.Background(), CreateInput{
		DeploymentID: "dep-1",
		DisplayName:  "Shop API key",
		Type:         "api_key",
		Value:        "sk-live-12345",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	stored := repo.stored[created.Key]
	if stored == nil {
		t.Fatal("credential was not persisted")
	}
	if stored.EncryptedValue == "sk-live-12345" {
		t.Fatal("plaintext must never reach the store")
	}
	if stored.Status != domain.CredentialStatusActive {
		t.Fatalf("expected active status, got %q", stored.Status)
	}
	plain, err := vault.Decrypt(stored.EncryptedValue, testSecret)
	if err != nil {
		t.Fatalf("stored value must decrypt with the service secret: %v", err)
	}
	if plain != "sk-live-12345" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	_, err := svc.Create(context.Background(), CreateInput{DeploymentID: "dep-1"})
	if !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty value, got %v", err)
	}

	_, err = svc.Create(context.Background(), CreateInput{DeploymentID: "missing", Value: "x"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown deployment, got %v", err)
	}
	if len(repo.stored) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(repo.stored))
	}
}

func TestRevealReturnsPlaintext(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	created, err := svc.Create(context.Background(), CreateInput{DeploymentID: "dep-1", Value: "hunter2"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	plain, err := svc.Reveal(context.Background(), created.Key)
	if err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	if plain != "hunter2" {
		t.Fatalf("expected plaintext back, got %q", plain)
	}
}

func TestRevealUndecryptableMarksFailed(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	// sealed under a different secret, so this service cannot open it
	sealed, err := vault.Encrypt("hunter2", "some-other-secret")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	repo.stored["cred-1"] = &domain.Credential{
		Key:            "cred-1",
		DeploymentID:   "dep-1",
		Status:         domain.CredentialStatusActive,
		EncryptedValue: sealed,
	}

	_, err = svc.Reveal(context.Background(), "cred-1")
	if !errors.Is(err, vault.ErrDecrypt) {
		t.Fatalf("expected vault.ErrDecrypt, got %v", err)
	}
	if repo.stored["cred-1"].Status != domain.CredentialStatusFailed {
		t.Fatalf("expected credential marked failed, got %q", repo.stored["cred-1"].Status)
	}
}

func TestRotateReplacesValueAndReactivates(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	created, err := svc.Create(context.Background(), CreateInput{DeploymentID: "dep-1", Value: "old-token"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := svc.UpdateStatus(context.Background(), created.Key, domain.CredentialStatusNeedsRefresh); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	if err := svc.Rotate(context.Background(), created.Key, "new-token"); err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}

	plain, err := svc.Reveal(context.Background(), created.Key)
	if err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	if plain != "new-token" {
		t.Fatalf("expected rotated value, got %q", plain)
	}
	if repo.stored[created.Key].Status != domain.CredentialStatusActive {
		t.Fatalf("rotation must reactivate the credential, got %q", repo.stored[created.Key].Status)
	}
}

func TestUpdateStatusRejectsUnknownState(t *testing.T) {
	repo := newFakeCredentialRepo()
	svc := newTestService(t, repo)

	err := svc.UpdateStatus(context.Background(), "any", "exploded")
	if !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
