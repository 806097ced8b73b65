// Package events records the deployment audit trail and streams it to
// subscribers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/repository"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Broadcaster delivers payloads to live subscribers of a deployment.
type Broadcaster interface {
	Broadcast(deploymentID string, payload []byte)
}

// Publisher forwards events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.DeploymentEvent) error
}

// Service persists events and fans them out.
type Service struct {
	repo      repository.EventRepository
	hub       Broadcaster
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs an event service. hub and publisher may be nil.
func New(repo repository.EventRepository, hub Broadcaster, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		hub:       hub,
		publisher: publisher,
		logger:    logger.With("component", "events"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append stores and broadcasts an event. Missing ids and timestamps are
// filled in.
func (s *Service) Append(ctx context.Context, event domain.DeploymentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if err := s.repo.AppendEvent(ctx, &event); err != nil {
		return err
	}
	s.broadcast(event)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", "deployment_id", event.DeploymentID, "error", err)
		}
	}
	return nil
}

// Record appends an event and logs instead of returning a failure. Callers
// on the pipeline path use it so an audit write never fails an operation.
func (s *Service) Record(ctx context.Context, deploymentID, source, level, msg string, metadata map[string]any) {
	if s == nil {
		return
	}
	event := domain.DeploymentEvent{
		DeploymentID: deploymentID,
		Source:       source,
		Level:        level,
		Message:      msg,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			event.Metadata = raw
		}
	}
	if err := s.Append(ctx, event); err != nil {
		s.logger.Warn("failed to record event", "deployment_id", deploymentID, "source", source, "error", err)
	}
}

// PluginLog records a log line emitted by a plugin.
func (s *Service) PluginLog(ctx context.Context, deploymentID, source, msg string) {
	s.Record(ctx, deploymentID, source, LevelInfo, strings.TrimSpace(msg), nil)
}

// List returns the audit trail for a deployment.
func (s *Service) List(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	return s.repo.ListEvents(ctx, deploymentID, limit)
}

// Delete removes the audit trail for a deployment.
func (s *Service) Delete(ctx context.Context, deploymentID string) error {
	return s.repo.DeleteEvents(ctx, deploymentID)
}

func (s *Service) broadcast(event domain.DeploymentEvent) {
	if s.hub == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "error", err)
		return
	}
	s.hub.Broadcast(event.DeploymentID, data)
}
