package domain

import (
	"encoding/json"
	"time"
)

// Event sources.
const (
	SourcePipeline  = "pipeline"
	SourceScheduler = "scheduler"
)

// DeploymentEvent is one entry of a deployment's audit trail.
type DeploymentEvent struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deployment_id"`
	Source       string          `json:"source"`
	Level        string          `json:"level"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
