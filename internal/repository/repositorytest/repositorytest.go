// Package repositorytest provides contract tests for [repository.Store]
// implementations.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/repository"
)

// Factory creates a fresh, empty store for each test.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func pending(id string) *domain.Deployment {
	return &domain.Deployment{
		ID:        id,
		Name:      "site-" + id,
		Status:    domain.StatusPending,
		FileCount: 3,
		TotalSize: 2048,
		Checks:    domain.CheckSet{},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func checks(security domain.CheckResult) domain.CheckSet {
	return domain.CheckSet{
		domain.CheckSecurity:        security,
		domain.CheckCost:            domain.Warn("Check could not complete: timeout"),
		domain.CheckBrand:           domain.Pass("on brand", "colors match"),
		domain.PluginDomain("a11y"): domain.Fail("missing alt text", "img/logo.png"),
	}
}

// Run exercises the [repository.Store] contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		if err := repo.CreateDeployment(ctx, pending("d1")); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		got, err := repo.GetDeployment(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeployment: %v", err)
		}
		if got.Status != domain.StatusPending || got.Name != "site-d1" || got.FileCount != 3 || got.TotalSize != 2048 {
			t.Fatalf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, base)
		}
		if len(got.Checks) != 0 || got.DeployedAt != nil || got.ExpiresAt != nil {
			t.Fatalf("expected empty checks and no timestamps, got %+v", got)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		if err := repo.CreateDeployment(ctx, pending("d1")); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Fatalf("second CreateDeployment: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		if _, err := repo.GetDeployment(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetDeployment: got %v, want ErrNotFound", err)
		}
	})

	t.Run("RecordChecksRoundTrip", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		want := checks(domain.Pass("clean"))
		if err := repo.RecordChecks(ctx, "d1", want, base.Add(time.Second)); err != nil {
			t.Fatalf("RecordChecks: %v", err)
		}
		got, err := repo.GetDeployment(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeployment: %v", err)
		}
		if got.Status != domain.StatusChecked {
			t.Fatalf("Status = %q, want checked", got.Status)
		}
		if len(got.Checks) != len(want) {
			t.Fatalf("Checks = %v, want %v", got.Checks, want)
		}
		for name, result := range want {
			stored := got.Checks[name]
			if stored.Status != result.Status || stored.Summary != result.Summary || len(stored.Details) != len(result.Details) {
				t.Fatalf("check %s = %+v, want %+v", name, stored, result)
			}
		}
	})

	t.Run("RecordChecksOnlyFromPending", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Pass("clean")), base)
		err := repo.RecordChecks(ctx, "d1", checks(domain.Fail("late")), base)
		if !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("second RecordChecks: got %v, want ErrConflict", err)
		}
		if err := repo.RecordChecks(ctx, "missing", checks(domain.Pass("x")), base); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("RecordChecks missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeployLifecycle", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("BeginDeploy from pending: got %v, want ErrConflict", err)
		}
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Warn("unsure")), base)
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base); err != nil {
			t.Fatalf("BeginDeploy: %v", err)
		}
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("concurrent BeginDeploy: got %v, want ErrConflict", err)
		}
		deployedAt := base.Add(time.Minute)
		expires := deployedAt.Add(time.Hour)
		err := repo.MarkDeployed(ctx, repository.DeployedUpdate{ID: "d1", URL: "http://host:1234", DeployedAt: deployedAt, ExpiresAt: &expires})
		if err != nil {
			t.Fatalf("MarkDeployed: %v", err)
		}
		got, _ := repo.GetDeployment(ctx, "d1")
		if got.Status != domain.StatusDeployed || got.Mode != domain.ModeDemo || got.URL != "http://host:1234" {
			t.Fatalf("unexpected deployed record %+v", got)
		}
		if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) || got.DeployedAt == nil || !got.DeployedAt.Equal(deployedAt) {
			t.Fatalf("unexpected timestamps deployed=%v expires=%v", got.DeployedAt, got.ExpiresAt)
		}

		// Redeploy as prod clears the expiry.
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeProd, base); err != nil {
			t.Fatalf("redeploy BeginDeploy: %v", err)
		}
		if err := repo.MarkDeployed(ctx, repository.DeployedUpdate{ID: "d1", URL: "http://host:1", DeployedAt: deployedAt}); err != nil {
			t.Fatalf("redeploy MarkDeployed: %v", err)
		}
		got, _ = repo.GetDeployment(ctx, "d1")
		if got.Mode != domain.ModeProd || got.ExpiresAt != nil {
			t.Fatalf("expected prod without expiry, got mode=%s expires=%v", got.Mode, got.ExpiresAt)
		}
	})

	t.Run("BeginDeployRefusesSecurityFail", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Fail("private key found")), base)
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeProd, base); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("BeginDeploy: got %v, want ErrConflict", err)
		}
		got, _ := repo.GetDeployment(ctx, "d1")
		if got.Status != domain.StatusChecked {
			t.Fatalf("Status = %q, want checked", got.Status)
		}
	})

	t.Run("BeginDeployRefusesOverdueDemo", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Pass("ok")), base)
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base); err != nil {
			t.Fatalf("BeginDeploy: %v", err)
		}
		expires := base.Add(time.Hour)
		if err := repo.MarkDeployed(ctx, repository.DeployedUpdate{ID: "d1", URL: "u", DeployedAt: base, ExpiresAt: &expires}); err != nil {
			t.Fatalf("MarkDeployed: %v", err)
		}

		late := expires.Add(time.Minute)
		if err := repo.BeginDeploy(ctx, "d1", domain.ModeProd, late); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("BeginDeploy after expiry: got %v, want ErrConflict", err)
		}
		got, _ := repo.GetDeployment(ctx, "d1")
		if got.Status != domain.StatusDeployed || got.Mode != domain.ModeDemo {
			t.Fatalf("overdue record changed: %s/%s", got.Status, got.Mode)
		}
		expired, err := repo.ListExpired(ctx, late)
		if err != nil || len(expired) != 1 || expired[0].ID != "d1" {
			t.Fatalf("expected d1 still listed for expiry, got %+v err=%v", expired, err)
		}

		if err := repo.BeginDeploy(ctx, "d1", domain.ModeProd, expires.Add(-time.Minute)); err != nil {
			t.Fatalf("BeginDeploy before expiry: %v", err)
		}
	})

	t.Run("MarkFailed", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		if err := repo.MarkFailed(ctx, "d1", base); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("MarkFailed from pending: got %v, want ErrConflict", err)
		}
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Pass("ok")), base)
		_ = repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base)
		if err := repo.MarkFailed(ctx, "d1", base); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		got, _ := repo.GetDeployment(ctx, "d1")
		if got.Status != domain.StatusFailed || got.ExpiresAt != nil {
			t.Fatalf("unexpected failed record %+v", got)
		}
	})

	t.Run("ListExpiredAndMarkExpired", func(t *testing.T) {
		repo := factory(t)
		now := base.Add(2 * time.Hour)
		deploy := func(id string, mode domain.Mode, expires *time.Time) {
			t.Helper()
			_ = repo.CreateDeployment(ctx, pending(id))
			_ = repo.RecordChecks(ctx, id, checks(domain.Pass("ok")), base)
			if err := repo.BeginDeploy(ctx, id, mode, base); err != nil {
				t.Fatalf("BeginDeploy %s: %v", id, err)
			}
			if err := repo.MarkDeployed(ctx, repository.DeployedUpdate{ID: id, URL: "u", DeployedAt: base, ExpiresAt: expires}); err != nil {
				t.Fatalf("MarkDeployed %s: %v", id, err)
			}
		}
		past := now.Add(-time.Minute)
		future := now.Add(time.Minute)
		deploy("old", domain.ModeDemo, &past)
		deploy("fresh", domain.ModeDemo, &future)
		deploy("prod", domain.ModeProd, nil)
		_ = repo.CreateDeployment(ctx, pending("idle"))

		expired, err := repo.ListExpired(ctx, now)
		if err != nil {
			t.Fatalf("ListExpired: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != "old" {
			t.Fatalf("expected only old to be expired, got %+v", expired)
		}
		if err := repo.MarkExpired(ctx, "old", now); err != nil {
			t.Fatalf("MarkExpired: %v", err)
		}
		if err := repo.MarkExpired(ctx, "old", now); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("second MarkExpired: got %v, want ErrConflict", err)
		}
		expired, _ = repo.ListExpired(ctx, now)
		if len(expired) != 0 {
			t.Fatalf("expected no expired after marking, got %d", len(expired))
		}
	})

	t.Run("ListDeploymentsNewestFirst", func(t *testing.T) {
		repo := factory(t)
		for i := 0; i < 3; i++ {
			d := pending(fmt.Sprintf("d%d", i))
			d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			d.UpdatedAt = d.CreatedAt
			if err := repo.CreateDeployment(ctx, d); err != nil {
				t.Fatalf("CreateDeployment: %v", err)
			}
		}
		list, err := repo.ListDeployments(ctx, 2)
		if err != nil {
			t.Fatalf("ListDeployments: %v", err)
		}
		if len(list) != 2 || list[0].ID != "d2" || list[1].ID != "d1" {
			t.Fatalf("unexpected order %+v", list)
		}
	})

	t.Run("DeleteFromAnyStatus", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		if err := repo.DeleteDeployment(ctx, "d1"); err != nil {
			t.Fatalf("DeleteDeployment: %v", err)
		}
		if _, err := repo.GetDeployment(ctx, "d1"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetDeployment after delete: got %v, want ErrNotFound", err)
		}
		if err := repo.DeleteDeployment(ctx, "d1"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("second DeleteDeployment: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ConcurrentBeginDeploySingleWinner", func(t *testing.T) {
		repo := factory(t)
		_ = repo.CreateDeployment(ctx, pending("d1"))
		_ = repo.RecordChecks(ctx, "d1", checks(domain.Pass("ok")), base)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := repo.BeginDeploy(ctx, "d1", domain.ModeDemo, base); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one BeginDeploy to win, got %d", wins)
		}
	})

	t.Run("Events", func(t *testing.T) {
		repo := factory(t)
		for i := 0; i < 5; i++ {
			err := repo.AppendEvent(ctx, &domain.DeploymentEvent{
				ID:           uuid.NewString(),
				DeploymentID: "d1",
				Source:       domain.SourcePipeline,
				Level:        "info",
				Message:      fmt.Sprintf("step %d", i),
				Metadata:     []byte(`{"n":1}`),
				CreatedAt:    base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("AppendEvent: %v", err)
			}
		}
		events, err := repo.ListEvents(ctx, "d1", 3)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) != 3 || events[0].Message != "step 2" || events[2].Message != "step 4" {
			t.Fatalf("expected the last three events in order, got %+v", events)
		}
		if err := repo.DeleteEvents(ctx, "d1"); err != nil {
			t.Fatalf("DeleteEvents: %v", err)
		}
		events, _ = repo.ListEvents(ctx, "d1", 10)
		if len(events) != 0 {
			t.Fatalf("expected no events after delete, got %d", len(events))
		}
	})
}
