package postgres

import (
	"context"

	"github.com/splax/airlock/internal/domain"
)

// AppendEvent inserts an audit trail entry.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	const query = `INSERT INTO deployment_events (id, deployment_id, source, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	var metadata []byte
	if len(event.Metadata) > 0 {
		metadata = event.Metadata
	}
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.DeploymentID, event.Source, event.Level, event.Message, metadata, event.CreatedAt.UTC())
	return err
}

// ListEvents returns the newest events for a deployment in chronological order.
func (r *Repository) ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT id::text, deployment_id, source, level, message, metadata, created_at FROM (
			SELECT * FROM deployment_events WHERE deployment_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.DeploymentEvent
	for rows.Next() {
		var e domain.DeploymentEvent
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Source, &e.Level, &e.Message, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvents removes every event of a deployment.
func (r *Repository) DeleteEvents(ctx context.Context, deploymentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM deployment_events WHERE deployment_id = $1`, deploymentID)
	return err
}
