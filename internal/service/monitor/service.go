package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
	"github.com/flowwatch/flowwatch/internal/ws"
)

// commitRetries bounds reloads after a lost version race. Conflicts only
// happen when two probes for the same deployment overlap, so one or two
// retries settle it.
const commitRetries = 3

const defaultHistoryLimit = 20

// Service ingests probe results, maintains the per-deployment health
// aggregate, and appends the immutable check history.
type Service struct {
	deployments repository.DeploymentRepository
	checks      repository.HealthCheckRepository
	hub         *ws.Hub
	logger      *slog.Logger
}

// New constructs a monitor service. The hub may be nil.
func New(deployments repository.DeploymentRepository, checks repository.HealthCheckRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{
		deployments: deployments,
		checks:      checks,
		hub:         hub,
		logger:      logger,
	}
}

// Record applies one probe result for a deployment: it appends exactly one
// health-check record, patches the aggregate, and emits at most one
// notification, all atomically. Returns repository.ErrNotFound when the
// deployment does not exist; the caller should drop it from scheduling
// rather than retry.
func (s Service) Record(ctx context.Context, deploymentID string, healthy bool, probe domain.ProbeResult, ts time.Time) error {
	for attempt := 0; ; attempt++ {
		deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
		if err != nil {
			return err
		}
		previous := deployment.Health
		updated := applyProbe(previous, healthy, probe, ts)
		check := buildHealthCheck(deploymentID, healthy, probe, ts)
		notification := evaluateAlert(previous, updated, deployment.WorkflowName, probe.Error, deploymentID, ts)

		err = s.deployments.CommitHealthResult(ctx, repository.HealthCommit{
			DeploymentID:    deploymentID,
			ExpectedVersion: previous.Version,
			Health:          updated,
			Check:           check,
			Notification:    notification,
		})
		if err == nil {
			if notification != nil {
				s.logger.Warn("health alert emitted",
					"deployment_id", deploymentID,
					"workflow", deployment.WorkflowName,
					"consecutive_errors", updated.ConsecutiveErrors)
			}
			s.broadcast(deploymentID, updated, ts)
			return nil
		}
		if errors.Is(err, repository.ErrConflict) && attempt < commitRetries {
			s.logger.Debug("health commit conflict, retrying", "deployment_id", deploymentID, "attempt", attempt+1)
			continue
		}
		return err
	}
}

// HealthHistory returns recent health-check records, most recent first,
// never more than limit (default 20).
func (s Service) HealthHistory(ctx context.Context, deploymentID string, limit int) ([]domain.HealthCheck, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.checks.ListHealthChecks(ctx, deploymentID, limit)
}

// buildHealthCheck constructs the immutable record for one probe.
func buildHealthCheck(deploymentID string, healthy bool, probe domain.ProbeResult, ts time.Time) *domain.HealthCheck {
	overall := domain.HealthStatusError
	if healthy {
		overall = domain.HealthStatusHealthy
	}
	checks := domain.CheckResults{
		WorkflowExists:   true,
		CredentialsValid: true,
		NoErrors:         healthy,
	}
	if probe.Details != nil {
		checks.WorkflowActive = probe.Details.WorkflowActive
		checks.RecentExecution = probe.Details.RecentExecutions > 0
	}
	check := &domain.HealthCheck{
		ID:            uuid.NewString(),
		DeploymentID:  deploymentID,
		Timestamp:     ts,
		OverallStatus: overall,
		Checks:        checks,
		Details:       probe.Error,
	}
	if exec := probe.LastExecution; exec != nil {
		check.Execution = &domain.ExecutionData{
			LastExecutionID:     exec.ID,
			LastExecutionTime:   exec.StartedAt.UTC(),
			LastExecutionStatus: mapExecutionStatus(exec.Status),
			ErrorMessage:        probe.Error,
		}
	}
	return check
}

func (s Service) broadcast(deploymentID string, health domain.DeploymentHealth, ts time.Time) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"deployment_id":      deploymentID,
		"healthy":            health.Healthy,
		"consecutive_errors": health.ConsecutiveErrors,
		"error_count":        health.ErrorCount,
		"checked_at":         ts.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(deploymentID, payload)
}
