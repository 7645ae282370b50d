package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
)

type fakeDeploymentRepo struct {
	mu            sync.Mutex
	deployment    *domain.Deployment
	listed        []domain.Deployment
	getErr        error
	listErr       error
	conflicts     int
	commitErr     error
	commitCalls   int
	checks        []domain.HealthCheck
	notifications []domain.Notification
}

func (f *fakeDeploymentRepo) CreateDeployment(context.Context, *domain.Deployment) error {
	return nil
}

func (f *fakeDeploymentRepo) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.deployment == nil || f.deployment.ID != id {
		return nil, repository.ErrNotFound
	}
	copied := *f.deployment
	return &copied, nil
}

func (f *fakeDeploymentRepo) ListDeploymentsByStatus(context.Context, string) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Deployment(nil), f.listed...), nil
}

func (f *fakeDeploymentRepo) CommitHealthResult(_ context.Context, commit repository.HealthCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if f.commitErr != nil {
		return f.commitErr
	}
	if f.conflicts > 0 {
		f.conflicts--
		return repository.ErrConflict
	}
	if f.deployment == nil || f.deployment.ID != commit.DeploymentID {
		return repository.ErrNotFound
	}
	if f.deployment.Health.Version != commit.ExpectedVersion {
		return repository.ErrConflict
	}
	f.deployment.Health = commit.Health
	if commit.Check != nil {
		f.checks = append(f.checks, *commit.Check)
	}
	if commit.Notification != nil {
		f.notifications = append(f.notifications, *commit.Notification)
	}
	return nil
}

type fakeCheckRepo struct {
	checks    []domain.HealthCheck
	lastLimit int
}

func (f *fakeCheckRepo) ListHealthChecks(_ context.Context, _ string, limit int) ([]domain.HealthCheck, error) {
	f.lastLimit = limit
	if limit < len(f.checks) {
		return f.checks[:limit], nil
	}
	return f.checks, nil
}

type serviceOption func(*Service)

func newTestService(opts ...serviceOption) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc := Service{
		deployments: &fakeDeploymentRepo{},
		checks:      &fakeCheckRepo{},
		hub:         nil,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(&svc)
	}
	return svc
}

func testDeployment() *domain.Deployment {
	return &domain.Deployment{
		ID:           "dep-1",
		ClientID:     "client-1",
		WorkflowName: "order-sync",
		Status:       domain.DeploymentStatusDeployed,
		Health:       domain.DeploymentHealth{Healthy: true},
	}
}

func recordFailure(t *testing.T, svc Service, repo *fakeDeploymentRepo, msg string) {
	t.Helper()
	probe := domain.ProbeResult{Error: msg}
	if err := svc.Record(context.Background(), repo.deployment.ID, false, probe, time.Now().UTC()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
}

func TestRecordFailureSequenceNotifiesOnEdgeAndThreshold(t *testing.T) {
	repo := &fakeDeploymentRepo{deployment: testDeployment()}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	recordFailure(t, svc, repo, "timeout")
	if len(repo.notifications) != 1 {
		t.Fatalf("first failure must notify on the healthy-to-unhealthy edge, got %d", len(repo.notifications))
	}

	recordFailure(t, svc, repo, "timeout")
	if len(repo.notifications) != 1 {
		t.Fatalf("second consecutive failure must stay silent, got %d notifications", len(repo.notifications))
	}

	recordFailure(t, svc, repo, "timeout")
	if len(repo.notifications) != 2 {
		t.Fatalf("third consecutive failure must notify at the threshold, got %d", len(repo.notifications))
	}

	// past the threshold every probe fires again
	recordFailure(t, svc, repo, "timeout")
	recordFailure(t, svc, repo, "timeout")
	if len(repo.notifications) != 4 {
		t.Fatalf("expected a notification per probe past the threshold, got %d", len(repo.notifications))
	}

	if len(repo.checks) != 5 {
		t.Fatalf("every probe must append exactly one record, got %d", len(repo.checks))
	}
	if repo.deployment.Health.ConsecutiveErrors != 5 {
		t.Fatalf("expected 5 consecutive errors, got %d", repo.deployment.Health.ConsecutiveErrors)
	}
}

func TestRecordRecoveryThenFailureFiresEdgeAgain(t *testing.T) {
	repo := &fakeDeploymentRepo{deployment: testDeployment()}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	recordFailure(t, svc, repo, "timeout")
	if err := svc.Record(context.Background(), "dep-1", true, domain.ProbeResult{}, time.Now().UTC()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if repo.deployment.Health.ConsecutiveErrors != 0 {
		t.Fatalf("recovery must reset consecutive errors, got %d", repo.deployment.Health.ConsecutiveErrors)
	}

	recordFailure(t, svc, repo, "timeout")
	if len(repo.notifications) != 2 {
		t.Fatalf("failure after recovery must notify on the edge again, got %d", len(repo.notifications))
	}
}

func TestRecordHealthyProbeAppendsRecordWithoutNotification(t *testing.T) {
	repo := &fakeDeploymentRepo{deployment: testDeployment()}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	if err := svc.Record(context.Background(), "dep-1", true, domain.ProbeResult{}, time.Now().UTC()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if len(repo.checks) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.checks))
	}
	if repo.checks[0].OverallStatus != domain.HealthStatusHealthy {
		t.Fatalf("expected healthy record, got %q", repo.checks[0].OverallStatus)
	}
	if len(repo.notifications) != 0 {
		t.Fatalf("healthy probe must not notify, got %d", len(repo.notifications))
	}
}

func TestRecordUnknownDeployment(t *testing.T) {
	repo := &fakeDeploymentRepo{}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	err := svc.Record(context.Background(), "missing", false, domain.ProbeResult{Error: "x"}, time.Now().UTC())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected repository.ErrNotFound, got %v", err)
	}
	if repo.commitCalls != 0 {
		t.Fatalf("expected no commit attempts, got %d", repo.commitCalls)
	}
}

func TestRecordRetriesOnVersionConflict(t *testing.T) {
	repo := &fakeDeploymentRepo{deployment: testDeployment(), conflicts: 2}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	if err := svc.Record(context.Background(), "dep-1", false, domain.ProbeResult{Error: "timeout"}, time.Now().UTC()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if repo.commitCalls != 3 {
		t.Fatalf("expected 3 commit attempts, got %d", repo.commitCalls)
	}
	if len(repo.checks) != 1 {
		t.Fatalf("a conflicted probe must still land exactly one record, got %d", len(repo.checks))
	}
}

func TestRecordGivesUpAfterRetryBudget(t *testing.T) {
	repo := &fakeDeploymentRepo{deployment: testDeployment(), conflicts: commitRetries + 5}
	svc := newTestService(func(s *Service) { s.deployments = repo })

	err := svc.Record(context.Background(), "dep-1", false, domain.ProbeResult{Error: "timeout"}, time.Now().UTC())
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected repository.ErrConflict, got %v", err)
	}
}

func TestHealthHistoryDefaultsLimit(t *testing.T) {
	checks := &fakeCheckRepo{}
	svc := newTestService(func(s *Service) { s.checks = checks })

	if _, err := svc.HealthHistory(context.Background(), "dep-1", 0); err != nil {
		t.Fatalf("HealthHistory returned error: %v", err)
	}
	if checks.lastLimit != defaultHistoryLimit {
		t.Fatalf("expected default limit %d, got %d", defaultHistoryLimit, checks.lastLimit)
	}

	if _, err := svc.HealthHistory(context.Background(), "dep-1", 5); err != nil {
		t.Fatalf("HealthHistory returned error: %v", err)
	}
	if checks.lastLimit != 5 {
		t.Fatalf("expected explicit limit 5, got %d", checks.lastLimit)
	}
}
