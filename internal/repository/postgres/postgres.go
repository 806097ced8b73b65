// Package postgres implements the deployment store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/splax/airlock/internal/app/migrate"
	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/repository/migrations"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.EventRepository      = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	runner, err := migrate.New(db, migrations.DriverPostgres, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// Ping checks the pool.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const deploymentColumns = `id, name, status, mode, file_count, total_size,
	security_status, security_details, cost_status, cost_details,
	brand_status, brand_details, plugin_checks, url,
	created_at, deployed_at, expires_at, updated_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	cols, err := repository.EncodeChecks(d.Checks)
	if err != nil {
		return err
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = d.CreatedAt
	}
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = r.pool.Exec(ctx, query,
		d.ID, d.Name, string(d.Status), string(d.Mode), d.FileCount, d.TotalSize,
		cols.SecurityStatus, cols.SecurityDetails,
		cols.CostStatus, cols.CostDetails,
		cols.BrandStatus, cols.BrandDetails,
		cols.Plugins, d.URL,
		d.CreatedAt.UTC(), timePtrToNil(d.DeployedAt), timePtrToNil(d.ExpiresAt), updated.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("deployment %q: %w", d.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// GetDeployment fetches a deployment by identifier.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments fetches recent deployments.
func (r *Repository) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY created_at DESC LIMIT $1`
	return r.queryDeployments(ctx, query, limit)
}

// RecordChecks stores outcomes and moves pending -> checked.
func (r *Repository) RecordChecks(ctx context.Context, id string, checks domain.CheckSet, at time.Time) error {
	cols, err := repository.EncodeChecks(checks)
	if err != nil {
		return err
	}
	const query = `UPDATE deployments SET
			status = 'checked',
			security_status = $2, security_details = $3,
			cost_status = $4, cost_details = $5,
			brand_status = $6, brand_details = $7,
			plugin_checks = $8, updated_at = $9
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id,
		cols.SecurityStatus, cols.SecurityDetails,
		cols.CostStatus, cols.CostDetails,
		cols.BrandStatus, cols.BrandDetails,
		cols.Plugins, at.UTC())
	if err != nil {
		return fmt.Errorf("record checks: %w", err)
	}
	return r.guarded(ctx, tag, id)
}

// BeginDeploy moves checked|deployed -> deploying unless security failed or
// the record is a demo already past its expiry at `at`.
func (r *Repository) BeginDeploy(ctx context.Context, id string, mode domain.Mode, at time.Time) error {
	const query = `UPDATE deployments SET status = 'deploying', mode = $2, updated_at = $3
		WHERE id = $1 AND status IN ('checked', 'deployed')
		AND (security_status IS NULL OR security_status <> 'fail')
		AND NOT (status = 'deployed' AND mode = 'demo' AND expires_at IS NOT NULL AND expires_at < $3)`
	tag, err := r.pool.Exec(ctx, query, id, string(mode), at.UTC())
	if err != nil {
		return fmt.Errorf("begin deploy: %w", err)
	}
	return r.guarded(ctx, tag, id)
}

// MarkDeployed moves deploying -> deployed.
func (r *Repository) MarkDeployed(ctx context.Context, update repository.DeployedUpdate) error {
	const query = `UPDATE deployments SET status = 'deployed', url = $2, deployed_at = $3, expires_at = $4, updated_at = $3
		WHERE id = $1 AND status = 'deploying'`
	tag, err := r.pool.Exec(ctx, query, update.ID, update.URL, update.DeployedAt.UTC(), timePtrToNil(update.ExpiresAt))
	if err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}
	return r.guarded(ctx, tag, update.ID)
}

// MarkFailed moves deploying -> failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE deployments SET status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'deploying'`
	tag, err := r.pool.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.guarded(ctx, tag, id)
}

// ListExpired returns deployed demo records whose expiry is before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = 'deployed' AND mode = 'demo' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`
	return r.queryDeployments(ctx, query, now.UTC())
}

// MarkExpired moves deployed -> expired.
func (r *Repository) MarkExpired(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE deployments SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'deployed'`
	tag, err := r.pool.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return r.guarded(ctx, tag, id)
}

// DeleteDeployment removes a deployment record.
func (r *Repository) DeleteDeployment(ctx context.Context, id string) error {
	const query = `DELETE FROM deployments WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) guarded(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM deployments WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup deployment: %w", err)
	}
	return repository.ErrConflict
}

func (r *Repository) queryDeployments(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d            domain.Deployment
		status, mode string
		cols         repository.CheckColumns
	)
	err := row.Scan(&d.ID, &d.Name, &status, &mode, &d.FileCount, &d.TotalSize,
		&cols.SecurityStatus, &cols.SecurityDetails, &cols.CostStatus, &cols.CostDetails,
		&cols.BrandStatus, &cols.BrandDetails, &cols.Plugins, &d.URL,
		&d.CreatedAt, &d.DeployedAt, &d.ExpiresAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	d.Mode = domain.Mode(mode)
	if d.Checks, err = repository.DecodeChecks(cols); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", d.ID, err)
	}
	return &d, nil
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
