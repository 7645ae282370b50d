package repository

import (
	"context"

	"github.com/flowwatch/flowwatch/internal/domain"
)

// UserRepository persists operator accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// HealthCommit bundles everything one probe result changes. The repository
// applies it as a single transaction guarded by ExpectedVersion: the
// aggregate patch, the appended health-check record, and the optional
// notification either all land or none do.
type HealthCommit struct {
	DeploymentID    string
	ExpectedVersion int64
	Health          domain.DeploymentHealth
	Check           *domain.HealthCheck
	Notification    *domain.Notification
}

// DeploymentRepository stores deployments and their health aggregates.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByStatus(ctx context.Context, status string) ([]domain.Deployment, error)
	CommitHealthResult(ctx context.Context, commit HealthCommit) error
}

// HealthCheckRepository reads the append-only probe history.
type HealthCheckRepository interface {
	ListHealthChecks(ctx context.Context, deploymentID string, limit int) ([]domain.HealthCheck, error)
}

// NotificationRepository stores operator notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification *domain.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
	DismissNotification(ctx context.Context, notificationID string) error
}

// CredentialRepository stores credential records with opaque encrypted values.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, credential *domain.Credential) error
	GetCredentialByKey(ctx context.Context, key string) (*domain.Credential, error)
	ListCredentialsByDeployment(ctx context.Context, deploymentID string) ([]domain.Credential, error)
	UpdateCredentialStatus(ctx context.Context, key, status string) error
	UpdateCredentialValue(ctx context.Context, key, encryptedValue string) error
}
