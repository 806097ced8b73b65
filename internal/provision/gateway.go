// Package provision publishes checked deployments to a public address.
package provision

import (
	"context"

	"github.com/splax/airlock/internal/domain"
)

// Artifact identifies a built, publishable deployment.
type Artifact struct {
	Ref string
}

// Gateway builds, starts and removes public deployments.
type Gateway interface {
	BuildAndPublish(ctx context.Context, id, sourceDir string) (Artifact, error)
	Provision(ctx context.Context, id string, artifact Artifact, mode domain.Mode, security domain.CheckStatus) (string, error)
	// Deprovision is idempotent; unknown ids are not errors.
	Deprovision(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
