package repository

import (
	"context"
	"time"

	"github.com/splax/airlock/internal/domain"
)

// DeployedUpdate captures the fields written when provisioning succeeds.
type DeployedUpdate struct {
	ID         string
	URL        string
	DeployedAt time.Time
	ExpiresAt  *time.Time
}

// DeploymentRepository stores deployment records. Every mutation is a single
// statement guarded on the current status; a guard miss on an existing record
// returns ErrConflict, a missing record returns ErrNotFound.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error)
	// RecordChecks stores outcomes and moves pending -> checked.
	RecordChecks(ctx context.Context, id string, checks domain.CheckSet, at time.Time) error
	// BeginDeploy moves checked|deployed -> deploying unless security failed
	// or the record is a demo already past its expiry at `at`.
	BeginDeploy(ctx context.Context, id string, mode domain.Mode, at time.Time) error
	// MarkDeployed moves deploying -> deployed.
	MarkDeployed(ctx context.Context, update DeployedUpdate) error
	// MarkFailed moves deploying -> failed.
	MarkFailed(ctx context.Context, id string, at time.Time) error
	// ListExpired returns deployed demo records whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time) ([]domain.Deployment, error)
	// MarkExpired moves deployed -> expired.
	MarkExpired(ctx context.Context, id string, at time.Time) error
	DeleteDeployment(ctx context.Context, id string) error
}

// EventRepository persists the deployment audit trail.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error
	ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error)
	DeleteEvents(ctx context.Context, deploymentID string) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	DeploymentRepository
	EventRepository
	Ping(ctx context.Context) error
	Close() error
}
