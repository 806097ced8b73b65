// Package sqlite implements the deployment store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/splax/airlock/internal/app/migrate"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/repository/migrations"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db *sql.DB
}

var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.EventRepository      = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Open opens a SQLite database at dsn and applies all pending migrations.
// Use ":memory:" for an in-memory database.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(pragma, "PRAGMA "), err)
		}
	}

	runner, err := migrate.New(db, migrations.DriverSQLite, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Ping checks the database handle.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
