// Package lifecycle expires demo deployments once their TTL has passed.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/metrics"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/service/events"
)

const (
	defaultInterval = time.Minute
	writeTimeout    = 30 * time.Second
)

// Deprovisioner tears down a published deployment.
type Deprovisioner interface {
	Deprovision(ctx context.Context, id string) error
}

// FileRemover deletes the working directory of a deployment.
type FileRemover interface {
	CleanupByID(id string) error
}

// EventLog records scheduler actions.
type EventLog interface {
	Record(ctx context.Context, deploymentID, source, level, msg string, metadata map[string]any)
}

// Lease serialises sweeps across replicas. Acquire reports false when
// another holder owns the lease.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Scheduler periodically expires demo deployments.
type Scheduler struct {
	store    repository.DeploymentRepository
	gateway  Deprovisioner
	files    FileRemover
	events   EventLog
	lease    Lease
	metrics  metrics.Pipeline
	logger   *slog.Logger
	interval time.Duration

	now func() time.Time
}

// Options holds the optional collaborators of a Scheduler.
type Options struct {
	Interval time.Duration
	Events   EventLog
	Lease    Lease
	Metrics  metrics.Pipeline
}

// New constructs a scheduler.
func New(store repository.DeploymentRepository, gateway Deprovisioner, files FileRemover, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Scheduler{
		store:    store,
		gateway:  gateway,
		files:    files,
		events:   opts.Events,
		lease:    opts.Lease,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "lifecycle"),
		interval: opts.Interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("lifecycle scheduler started", "interval", s.interval)
	s.runIteration(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle scheduler stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

// runIteration performs one sweep and never lets a failure escape.
func (s *Scheduler) runIteration(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup cycle panicked", "panic", r)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx, s.interval)
		if err != nil {
			s.logger.Warn("failed to acquire sweep lease", "error", err)
			return
		}
		if !ok {
			s.logger.Debug("sweep lease held elsewhere")
			return
		}
		defer release()
	}

	start := time.Now()
	expired := s.Sweep(ctx)
	s.metrics.ObserveSweep(time.Since(start))
	if expired > 0 {
		s.logger.Info("cleanup cycle finished", "expired", expired)
	}
}

// Sweep expires every overdue demo deployment and returns how many records
// were marked expired. Cancellation is honoured between records only.
func (s *Scheduler) Sweep(ctx context.Context) int {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	due, err := s.store.ListExpired(writeCtx, s.now())
	if err != nil {
		s.logger.Error("failed to list expired deployments", "error", err)
		return 0
	}
	expired := 0
	for _, d := range due {
		if ctx.Err() != nil {
			s.logger.Info("cleanup cycle interrupted", "remaining", len(due)-expired)
			break
		}
		if s.expire(writeCtx, d) {
			expired++
		}
	}
	return expired
}

func (s *Scheduler) expire(ctx context.Context, d domain.Deployment) bool {
	log := s.logger.With("deployment_id", d.ID)
	if err := s.gateway.Deprovision(ctx, d.ID); err != nil {
		log.Warn("deprovision failed", "error", err)
	}
	if err := s.files.CleanupByID(d.ID); err != nil {
		log.Warn("failed to remove deployment files", "error", err)
	}
	if err := s.store.MarkExpired(ctx, d.ID, s.now()); err != nil {
		log.Warn("failed to mark deployment expired", "error", err)
		s.metrics.IncExpired("error")
		return false
	}
	s.metrics.IncExpired("expired")
	if s.events != nil {
		s.events.Record(ctx, d.ID, domain.SourceScheduler, events.LevelInfo, "demo deployment expired", nil)
	}
	log.Info("deployment expired")
	return true
}
