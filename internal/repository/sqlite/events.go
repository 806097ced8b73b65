package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/splax/airlock/internal/domain"
)

// AppendEvent inserts an audit trail entry.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	const query = `INSERT INTO deployment_events (id, deployment_id, source, level, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.DeploymentID, event.Source, event.Level, event.Message,
		nullBytes(event.Metadata), formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events for a deployment in chronological order.
func (r *Repository) ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT id, deployment_id, source, level, message, metadata, created_at FROM (
			SELECT * FROM deployment_events WHERE deployment_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, rowid ASC`
	rows, err := r.db.QueryContext(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.DeploymentEvent
	for rows.Next() {
		var (
			e         domain.DeploymentEvent
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Source, &e.Level, &e.Message, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			e.Metadata = []byte(metadata.String)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvents removes every event of a deployment.
func (r *Repository) DeleteEvents(ctx context.Context, deploymentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM deployment_events WHERE deployment_id = ?`, deploymentID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}
