package postgres

import "context"

// Truncate empties every table between contract test cases.
func (r *Repository) Truncate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE deployments, deployment_events`)
	return err
}
