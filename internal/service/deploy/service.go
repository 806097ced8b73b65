// Package deploy drives a deployment from upload to a public address.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/airlock/internal/archive"
	"github.com/splax/airlock/internal/check"
	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/metrics"
	"github.com/splax/airlock/internal/provision"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/service/events"
	"github.com/splax/airlock/internal/workspace"
)

var (
	// ErrValidation wraps a rejected archive.
	ErrValidation = errors.New("invalid archive")
	// ErrBlocked is returned when the security check failed.
	ErrBlocked = errors.New("deployment blocked by security check")
	// ErrInvalidState is returned when the record is not deployable.
	ErrInvalidState = errors.New("deployment is not in a deployable state")
	// ErrInvalidMode is returned for modes other than demo and prod.
	ErrInvalidMode = errors.New("mode must be demo or prod")
	// ErrFilesMissing is returned when the working directory is gone.
	ErrFilesMissing = errors.New("deployment files are missing")
	// ErrProvisioning wraps a gateway failure.
	ErrProvisioning = errors.New("provisioning failed")
)

// Extractor validates an archive and unpacks it into dest.
type Extractor interface {
	Extract(zipPath, dest string) (archive.Metadata, error)
}

// Checker evaluates a deployment directory.
type Checker interface {
	Run(ctx context.Context, target check.Target) domain.CheckSet
}

// EventLog records the audit trail of a deployment.
type EventLog interface {
	Record(ctx context.Context, deploymentID, source, level, msg string, metadata map[string]any)
	List(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error)
	Delete(ctx context.Context, deploymentID string) error
}

// UploadInput is an archive submitted for deployment.
type UploadInput struct {
	Name    string
	ZipPath string
}

// Config carries the service tunables.
type Config struct {
	DemoTTL      time.Duration
	CheckTimeout time.Duration
}

// Service orchestrates intake, checks and provisioning.
type Service struct {
	store     repository.DeploymentRepository
	events    EventLog
	extractor Extractor
	checker   Checker
	gateway   provision.Gateway
	dirs      *workspace.Manager
	metrics   metrics.Pipeline
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New returns a deployment service.
func New(store repository.DeploymentRepository, eventLog EventLog, extractor Extractor, checker Checker, gateway provision.Gateway, dirs *workspace.Manager, m metrics.Pipeline, cfg Config, logger *slog.Logger) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	if cfg.DemoTTL <= 0 {
		cfg.DemoTTL = time.Hour
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Minute
	}
	return &Service{
		store:     store,
		events:    eventLog,
		extractor: extractor,
		checker:   checker,
		gateway:   gateway,
		dirs:      dirs,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With("component", "deploy"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     NewID,
	}
}

// NewID returns a 16 character hex deployment id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Intake validates and extracts an archive, creates the record and runs
// every check. A validation failure leaves neither a record nor files.
// After extraction the pipeline runs detached from ctx and the checks are
// bounded by CheckTimeout.
func (s *Service) Intake(ctx context.Context, in UploadInput) (*domain.Deployment, error) {
	id := s.newID()
	dir, err := s.dirs.Path(id)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("deployment_id", id)

	meta, err := s.extractor.Extract(in.ZipPath, dir)
	if err != nil {
		_ = s.dirs.Cleanup(dir)
		if archive.IsValidationError(err) {
			log.Info("archive rejected", "error", err)
			return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
		}
		return nil, fmt.Errorf("extract archive: %w", err)
	}

	work := context.WithoutCancel(ctx)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = id
	}
	now := s.now()
	deployment := &domain.Deployment{
		ID:        id,
		Name:      name,
		Status:    domain.StatusPending,
		FileCount: meta.FileCount,
		TotalSize: meta.TotalSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDeployment(work, deployment); err != nil {
		_ = s.dirs.Cleanup(dir)
		return nil, err
	}
	log.Info("deployment created", "files", meta.FileCount, "bytes", meta.TotalSize)
	s.events.Record(work, id, domain.SourcePipeline, events.LevelInfo, "archive accepted", map[string]any{
		"file_count": meta.FileCount,
		"total_size": meta.TotalSize,
	})

	checkCtx, cancel := context.WithTimeout(work, s.cfg.CheckTimeout)
	checks := s.checker.Run(checkCtx, check.Target{DeploymentID: id, Dir: dir})
	cancel()
	if err := s.store.RecordChecks(work, id, checks, s.now()); err != nil {
		log.Error("failed to record checks", "error", err)
		return nil, fmt.Errorf("record checks: %w", err)
	}
	summary := map[string]any{}
	for _, d := range checks.Domains() {
		summary[d] = string(checks[d].Status)
	}
	s.events.Record(work, id, domain.SourcePipeline, events.LevelInfo, "checks recorded", summary)
	log.Info("checks recorded", "worst", checks.Worst())
	return s.store.GetDeployment(work, id)
}

// Deploy provisions a checked deployment in mode. Demo deployments expire
// after the configured TTL; prod deployments never expire.
func (s *Service) Deploy(ctx context.Context, id string, rawMode string) (*domain.Deployment, error) {
	mode, ok := domain.ParseMode(rawMode)
	if !ok {
		return nil, ErrInvalidMode
	}
	deployment, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(deployment.Status, domain.StatusDeploying) {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, deployment.Status)
	}
	if deployment.Expired(s.now()) {
		return nil, fmt.Errorf("%w: expired, awaiting cleanup", ErrInvalidState)
	}
	if deployment.SecurityBlocked() {
		return nil, ErrBlocked
	}
	if !s.dirs.Exists(id) {
		return nil, ErrFilesMissing
	}

	if err := s.store.BeginDeploy(ctx, id, mode, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.conflictReason(ctx, id)
		}
		return nil, err
	}
	log := s.logger.With("deployment_id", id, "mode", mode)
	s.events.Record(ctx, id, domain.SourcePipeline, events.LevelInfo, "deploy started", map[string]any{"mode": string(mode)})

	dir, _ := s.dirs.Path(id)
	security := deployment.Checks[domain.CheckSecurity].Status
	url, err := s.publish(ctx, id, dir, mode, security)
	// Provisioning may outlive the caller; the outcome is always recorded.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("provisioning failed", "error", err)
		s.metrics.IncDeployResult(string(mode), "failed")
		if markErr := s.store.MarkFailed(writeCtx, id, s.now()); markErr != nil {
			log.Error("failed to mark deployment failed", "error", markErr)
		}
		s.events.Record(writeCtx, id, domain.SourcePipeline, events.LevelError, "deploy failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	deployedAt := s.now()
	var expiresAt *time.Time
	if mode == domain.ModeDemo {
		t := deployedAt.Add(s.cfg.DemoTTL)
		expiresAt = &t
	}
	if err := s.store.MarkDeployed(writeCtx, repository.DeployedUpdate{ID: id, URL: url, DeployedAt: deployedAt, ExpiresAt: expiresAt}); err != nil {
		log.Error("failed to mark deployment deployed", "error", err)
		return nil, err
	}
	s.metrics.IncDeployResult(string(mode), "deployed")
	s.events.Record(writeCtx, id, domain.SourcePipeline, events.LevelInfo, "deployed", map[string]any{"url": url, "mode": string(mode)})
	log.Info("deployment live", "url", url)
	return s.store.GetDeployment(writeCtx, id)
}

func (s *Service) publish(ctx context.Context, id, dir string, mode domain.Mode, security domain.CheckStatus) (string, error) {
	artifact, err := s.gateway.BuildAndPublish(ctx, id, dir)
	if err != nil {
		return "", err
	}
	return s.gateway.Provision(ctx, id, artifact, mode, security)
}

// conflictReason explains why a guarded BeginDeploy did not apply.
func (s *Service) conflictReason(ctx context.Context, id string) error {
	current, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if current.SecurityBlocked() {
		return ErrBlocked
	}
	if current.Expired(s.now()) {
		return fmt.Errorf("%w: expired, awaiting cleanup", ErrInvalidState)
	}
	return fmt.Errorf("%w: status is %s", ErrInvalidState, current.Status)
}

// Get returns one deployment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.store.GetDeployment(ctx, id)
}

// List returns the newest deployments.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return s.store.ListDeployments(ctx, limit)
}

// Events returns the audit trail of a deployment.
func (s *Service) Events(ctx context.Context, id string, limit int) ([]domain.DeploymentEvent, error) {
	if _, err := s.store.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	return s.events.List(ctx, id, limit)
}

// Delete tears down a deployment in any state. Teardown failures are logged
// and do not stop the record from being removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	deployment, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With("deployment_id", id)
	live := deployment.Status == domain.StatusDeployed || deployment.Status == domain.StatusDeploying
	if live && deployment.URL != "" {
		if err := s.gateway.Deprovision(ctx, id); err != nil {
			log.Warn("deprovision failed", "error", err)
		}
	}
	if err := s.dirs.CleanupByID(id); err != nil {
		log.Warn("failed to remove deployment files", "error", err)
	}
	if err := s.events.Delete(ctx, id); err != nil {
		log.Warn("failed to delete events", "error", err)
	}
	if err := s.store.DeleteDeployment(ctx, id); err != nil {
		return err
	}
	log.Info("deployment deleted")
	return nil
}
