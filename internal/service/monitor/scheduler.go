package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
)

const (
	defaultScheduleInterval = 5 * time.Minute
	defaultConcurrency      = 8
)

// Scheduler drives the monitoring cadence: each tick it enumerates
// deployments with status "deployed" and issues one probe + Record per
// deployment. Distinct deployments run concurrently; shutdown lets
// in-flight calls finish without starting new ones.
type Scheduler struct {
	deployments repository.DeploymentRepository
	prober      Prober
	recorder    Service
	logger      *slog.Logger

	interval    time.Duration
	concurrency int
	now         func() time.Time
}

// NewScheduler constructs a scheduler. Returns nil when no prober is wired.
func NewScheduler(deployments repository.DeploymentRepository, prober Prober, recorder Service, logger *slog.Logger, interval time.Duration, concurrency int) *Scheduler {
	if deployments == nil || prober == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultScheduleInterval
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger != nil {
		logger = logger.With("component", "monitor")
	}
	return &Scheduler{
		deployments: deployments,
		prober:      prober,
		recorder:    recorder,
		logger:      logger,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run executes the monitoring loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("monitor scheduler started", "interval", s.interval)
	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor scheduler stopped")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(parent context.Context) {
	// Detached from parent cancellation so probes already dispatched finish
	// their commit after shutdown; the timeout still bounds the tick.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.interval)
	defer cancel()

	deployments, err := s.deployments.ListDeploymentsByStatus(opCtx, domain.DeploymentStatusDeployed)
	if err != nil {
		s.logger.Warn("failed to list active deployments", "error", err)
		return
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, deployment := range deployments {
		select {
		case <-parent.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(deployment domain.Deployment) {
			defer wg.Done()
			defer func() { <-sem }()
			s.probeOne(opCtx, deployment)
		}(deployment)
	}
	wg.Wait()
}

func (s *Scheduler) probeOne(ctx context.Context, deployment domain.Deployment) {
	healthy, result := s.prober.Probe(ctx, deployment)
	if err := s.recorder.Record(ctx, deployment.ID, healthy, result, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// stale listing; the next tick will no longer include it
			s.logger.Warn("deployment disappeared before record", "deployment_id", deployment.ID)
			return
		}
		s.logger.Error("health record failed", "deployment_id", deployment.ID, "error", err)
	}
}
