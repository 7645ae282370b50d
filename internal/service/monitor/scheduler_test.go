package monitor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
)

type stubProber struct {
	mu      sync.Mutex
	healthy bool
	errMsg  string
	probed  []string
	notify  chan struct{}
}

func (p *stubProber) Probe(_ context.Context, deployment domain.Deployment) (bool, domain.ProbeResult) {
	p.mu.Lock()
	p.probed = append(p.probed, deployment.ID)
	p.mu.Unlock()
	if p.notify != nil {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return p.healthy, domain.ProbeResult{Error: p.errMsg}
}

func (p *stubProber) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.probed)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewSchedulerRequiresProber(t *testing.T) {
	repo := &fakeDeploymentRepo{}
	recorder := newTestService(func(s *Service) { s.deployments = repo })

	if s := NewScheduler(repo, nil, recorder, discardLogger(), time.Minute, 4); s != nil {
		t.Fatal("expected nil scheduler without a prober")
	}
	if s := NewScheduler(nil, &stubProber{}, recorder, discardLogger(), time.Minute, 4); s != nil {
		t.Fatal("expected nil scheduler without a deployment source")
	}
	var nilScheduler *Scheduler
	nilScheduler.Run(context.Background()) // must be a no-op
}

func TestRunTickProbesEveryDeployedInstance(t *testing.T) {
	deployment := testDeployment()
	repo := &fakeDeploymentRepo{
		deployment: deployment,
		listed:     []domain.Deployment{*deployment},
	}
	recorder := newTestService(func(s *Service) { s.deployments = repo })
	prober := &stubProber{healthy: true}

	scheduler := NewScheduler(repo, prober, recorder, discardLogger(), time.Minute, 2)
	scheduler.runTick(context.Background())

	if prober.probeCount() != 1 {
		t.Fatalf("expected 1 probe, got %d", prober.probeCount())
	}
	if len(repo.checks) != 1 {
		t.Fatalf("expected 1 recorded check, got %d", len(repo.checks))
	}
	if !repo.deployment.Health.Healthy {
		t.Fatal("expected aggregate marked healthy")
	}
}

func TestRunTickRecordsFailures(t *testing.T) {
	deployment := testDeployment()
	repo := &fakeDeploymentRepo{
		deployment: deployment,
		listed:     []domain.Deployment{*deployment},
	}
	recorder := newTestService(func(s *Service) { s.deployments = repo })
	prober := &stubProber{healthy: false, errMsg: "connection refused"}

	scheduler := NewScheduler(repo, prober, recorder, discardLogger(), time.Minute, 2)
	scheduler.runTick(context.Background())

	if repo.deployment.Health.ConsecutiveErrors != 1 {
		t.Fatalf("expected consecutive errors 1, got %d", repo.deployment.Health.ConsecutiveErrors)
	}
	if len(repo.notifications) != 1 {
		t.Fatalf("expected edge notification, got %d", len(repo.notifications))
	}
}

func TestRunTickToleratesStaleListing(t *testing.T) {
	// listed deployment no longer exists at record time
	stale := domain.Deployment{ID: "gone", Status: domain.DeploymentStatusDeployed}
	repo := &fakeDeploymentRepo{listed: []domain.Deployment{stale}}
	recorder := newTestService(func(s *Service) { s.deployments = repo })
	prober := &stubProber{healthy: true}

	scheduler := NewScheduler(repo, prober, recorder, discardLogger(), time.Minute, 2)
	scheduler.runTick(context.Background())

	if len(repo.checks) != 0 {
		t.Fatalf("expected no records for a vanished deployment, got %d", len(repo.checks))
	}
}

func TestRunExecutesFirstTickThenStopsOnCancel(t *testing.T) {
	deployment := testDeployment()
	repo := &fakeDeploymentRepo{
		deployment: deployment,
		listed:     []domain.Deployment{*deployment},
	}
	recorder := newTestService(func(s *Service) { s.deployments = repo })
	prober := &stubProber{healthy: true, notify: make(chan struct{}, 1)}

	scheduler := NewScheduler(repo, prober, recorder, discardLogger(), time.Hour, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	select {
	case <-prober.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never executed the immediate tick")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if prober.probeCount() != 1 {
		t.Fatalf("expected exactly the immediate tick, got %d probes", prober.probeCount())
	}
}
