package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/repository"
)

const deploymentColumns = `id, name, status, mode, file_count, total_size,
	security_status, security_details, cost_status, cost_details,
	brand_status, brand_details, plugin_checks, url,
	created_at, deployed_at, expires_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateDeployment inserts a new record.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.Name, string(d.Status), string(d.Mode), d.FileCount, d.TotalSize,
		cols.SecurityStatus, nullBytes(cols.SecurityDetails),
		cols.CostStatus, nullBytes(cols.CostDetails),
		cols.BrandStatus, nullBytes(cols.BrandDetails),
		nullBytes(cols.Plugins), d.URL,
		formatTime(d.CreatedAt), formatTimePtr(d.DeployedAt), formatTimePtr(d.ExpiresAt), formatTime(updated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// GetDeployment fetches a record by id.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments returns the newest records first.
func (r *Repository) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY created_at DESC LIMIT ?`
	return r.queryDeployments(ctx, query, limit)
}

// RecordChecks stores check outcomes and moves pending -> checked.
func (r *Repository) RecordChecks(ctx context.Context, id string, checks domain.CheckSet, at time.Time) error {
	cols, err := repository.EncodeChecks(checks)
	if err != nil {
		return err
	}
	const query = `UPDATE deployments SET
			status = 'checked',
			security_status = ?, security_details = ?,
			cost_status = ?, cost_details = ?,
			brand_status = ?, brand_details = ?,
			plugin_checks = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query,
		cols.SecurityStatus, nullBytes(cols.SecurityDetails),
		cols.CostStatus, nullBytes(cols.CostDetails),
		cols.BrandStatus, nullBytes(cols.BrandDetails),
		nullBytes(cols.Plugins), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("record checks: %w", err)
	}
	return r.guarded(ctx, res, id)
}

// BeginDeploy moves checked|deployed -> deploying unless security failed or
// the record is a demo already past its expiry at `at`.
func (r *Repository) BeginDeploy(ctx context.Context, id string, mode domain.Mode, at time.Time) error {
	const query = `UPDATE deployments SET status = 'deploying', mode = ?, updated_at = ?
		WHERE id = ? AND status IN ('checked', 'deployed')
		AND (security_status IS NULL OR security_status <> 'fail')
		AND NOT (status = 'deployed' AND mode = 'demo' AND expires_at IS NOT NULL AND expires_at < ?)`
	stamp := formatTime(at)
	res, err := r.db.ExecContext(ctx, query, string(mode), stamp, id, stamp)
	if err != nil {
		return fmt.Errorf("begin deploy: %w", err)
	}
	return r.guarded(ctx, res, id)
}

// MarkDeployed moves deploying -> deployed.
func (r *Repository) MarkDeployed(ctx context.Context, update repository.DeployedUpdate) error {
	const query = `UPDATE deployments SET status = 'deployed', url = ?, deployed_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'deploying'`
	res, err := r.db.ExecContext(ctx, query,
		update.URL, formatTime(update.DeployedAt), formatTimePtr(update.ExpiresAt), formatTime(update.DeployedAt), update.ID)
	if err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}
	return r.guarded(ctx, res, update.ID)
}

// MarkFailed moves deploying -> failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE deployments SET status = 'failed', updated_at = ?
		WHERE id = ? AND status = 'deploying'`
	res, err := r.db.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.guarded(ctx, res, id)
}

// ListExpired returns deployed demo records whose expiry is before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = 'deployed' AND mode = 'demo' AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at`
	return r.queryDeployments(ctx, query, formatTime(now))
}

// MarkExpired moves deployed -> expired.
func (r *Repository) MarkExpired(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE deployments SET status = 'expired', updated_at = ?
		WHERE id = ? AND status = 'deployed'`
	res, err := r.db.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return r.guarded(ctx, res, id)
}

// DeleteDeployment removes a record regardless of status.
func (r *Repository) DeleteDeployment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// guarded maps a zero-row guarded update to ErrNotFound or ErrConflict.
func (r *Repository) guarded(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM deployments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup deployment: %w", err)
	}
	return repository.ErrConflict
}

func (r *Repository) queryDeployments(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var (
		d                                     domain.Deployment
		status, mode                          string
		secStatus, costStatus, brandStatus    sql.NullString
		secDetails, costDetails, brandDetails sql.NullString
		plugins                               sql.NullString
		createdAt, updatedAt                  string
		deployedAt, expiresAt                 sql.NullString
	)
	err := row.Scan(&d.ID, &d.Name, &status, &mode, &d.FileCount, &d.TotalSize,
		&secStatus, &secDetails, &costStatus, &costDetails,
		&brandStatus, &brandDetails, &plugins, &d.URL,
		&createdAt, &deployedAt, &expiresAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	d.Mode = domain.Mode(mode)

	cols := repository.CheckColumns{
		SecurityStatus: stringPtr(secStatus), SecurityDetails: bytesOf(secDetails),
		CostStatus: stringPtr(costStatus), CostDetails: bytesOf(costDetails),
		BrandStatus: stringPtr(brandStatus), BrandDetails: bytesOf(brandDetails),
		Plugins: bytesOf(plugins),
	}
	if d.Checks, err = repository.DecodeChecks(cols); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if d.DeployedAt, err = parseTimePtr(deployedAt); err != nil {
		return nil, err
	}
	if d.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func bytesOf(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}
