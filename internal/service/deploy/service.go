package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
)

// Service manages the deployment registry the monitor draws from.
type Service struct {
	deployments repository.DeploymentRepository
	logger      *slog.Logger
}

// New constructs a deployment service.
func New(deployments repository.DeploymentRepository, logger *slog.Logger) Service {
	return Service{deployments: deployments, logger: logger}
}

// RegisterInput captures attributes for a new deployment.
type RegisterInput struct {
	ClientID     string
	WorkflowID   string
	WorkflowName string
	HealthURL    string
}

// Register records a newly deployed workflow instance. Its aggregate starts
// healthy with empty history; the first probe establishes real state.
func (s Service) Register(ctx context.Context, input RegisterInput) (*domain.Deployment, error) {
	if strings.TrimSpace(input.ClientID) == "" {
		return nil, fmt.Errorf("%w: client id required", repository.ErrInvalidArgument)
	}
	if strings.TrimSpace(input.WorkflowName) == "" {
		return nil, fmt.Errorf("%w: workflow name required", repository.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:           uuid.NewString(),
		ClientID:     strings.TrimSpace(input.ClientID),
		WorkflowID:   strings.TrimSpace(input.WorkflowID),
		WorkflowName: strings.TrimSpace(input.WorkflowName),
		Status:       domain.DeploymentStatusDeployed,
		HealthURL:    strings.TrimSpace(input.HealthURL),
		Health: domain.DeploymentHealth{
			Healthy: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment registered", "deployment_id", deployment.ID, "workflow", deployment.WorkflowName)
	return deployment, nil
}

// Get returns a deployment with its health aggregate.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ListByStatus returns deployments filtered by status; empty means deployed.
func (s Service) ListByStatus(ctx context.Context, status string) ([]domain.Deployment, error) {
	if strings.TrimSpace(status) == "" {
		status = domain.DeploymentStatusDeployed
	}
	return s.deployments.ListDeploymentsByStatus(ctx, status)
}
