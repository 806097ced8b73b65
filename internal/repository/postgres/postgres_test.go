package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/repository/postgres"
	"github.com/splax/airlock/internal/repository/repositorytest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("AIRLOCK_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("AIRLOCK_TEST_POSTGRES_URL not set")
	}
	repositorytest.Run(t, func(t *testing.T) repository.Store {
		ctx := context.Background()
		repo, err := postgres.Open(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if err := repo.Truncate(ctx); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}
