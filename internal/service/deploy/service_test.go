package deploy

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/airlock/internal/archive"
	"github.com/splax/airlock/internal/check"
	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/provision"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/repository/sqlite"
	"github.com/splax/airlock/internal/service/events"
	"github.com/splax/airlock/internal/workspace"
)

type staticChecker struct {
	set domain.CheckSet
}

func (c staticChecker) Run(context.Context, check.Target) domain.CheckSet {
	out := domain.CheckSet{}
	for k, v := range c.set {
		out[k] = v
	}
	return out
}

// cancellingChecker drops the caller's context mid run and reports what a
// context aware evaluator would see.
type cancellingChecker struct {
	cancel      context.CancelFunc
	hadDeadline bool
}

func (c *cancellingChecker) Run(ctx context.Context, _ check.Target) domain.CheckSet {
	c.cancel()
	_, c.hadDeadline = ctx.Deadline()
	set := allPass()
	if ctx.Err() != nil {
		set[domain.CheckSecurity] = domain.Warn("Check could not complete: context canceled", "Automated analysis unavailable, defaulting to warn")
		return set
	}
	set[domain.CheckSecurity] = domain.Fail("hardcoded credentials")
	return set
}

type fakeGateway struct {
	mu            sync.Mutex
	buildErr      error
	deprovisioned []string
	deprovErr     error
	provisioned   []domain.Mode
}

func (g *fakeGateway) BuildAndPublish(_ context.Context, id, _ string) (provision.Artifact, error) {
	if g.buildErr != nil {
		return provision.Artifact{}, g.buildErr
	}
	return provision.Artifact{Ref: "img-" + id}, nil
}

func (g *fakeGateway) Provision(_ context.Context, id string, _ provision.Artifact, mode domain.Mode, _ domain.CheckStatus) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provisioned = append(g.provisioned, mode)
	return "http://sites.test/" + id, nil
}

func (g *fakeGateway) Deprovision(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deprovisioned = append(g.deprovisioned, id)
	return g.deprovErr
}

func (g *fakeGateway) Ping(context.Context) error { return nil }

type fixture struct {
	svc     *Service
	store   *sqlite.Repository
	gateway *fakeGateway
	dirs    *workspace.Manager
	now     time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, checks domain.CheckSet) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	dirs, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	f := &fixture{
		store:   store,
		gateway: &fakeGateway{},
		dirs:    dirs,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	eventSvc := events.New(store, nil, nil, testLogger())
	f.svc = New(store, eventSvc, archive.NewValidator(0, 0), staticChecker{set: checks}, f.gateway, dirs, nil, Config{DemoTTL: time.Hour}, testLogger())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func siteZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.zip")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
	return path
}

func allPass() domain.CheckSet {
	return domain.CheckSet{
		domain.CheckSecurity: domain.Pass("clean"),
		domain.CheckCost:     domain.Pass("cheap"),
		domain.CheckBrand:    domain.Pass("on brand"),
	}
}

func (f *fixture) intake(t *testing.T) *domain.Deployment {
	t.Helper()
	d, err := f.svc.Intake(context.Background(), UploadInput{Name: "site", ZipPath: siteZip(t, map[string]string{"index.html": "<h1>hi</h1>"})})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	return d
}

func TestIntakeRecordsChecks(t *testing.T) {
	checks := allPass()
	checks[domain.CheckCost] = domain.Warn("Check could not complete: quota", "Automated analysis unavailable, defaulting to warn")
	f := newFixture(t, checks)

	d := f.intake(t)
	if d.Status != domain.StatusChecked {
		t.Fatalf("expected checked, got %s", d.Status)
	}
	if len(d.ID) != 16 || d.Name != "site" || d.FileCount != 1 {
		t.Fatalf("unexpected deployment %+v", d)
	}
	if got := strings.Join(d.Checks.Domains(), ","); got != "security,cost,brand" {
		t.Fatalf("unexpected domains %s", got)
	}
	if d.Checks[domain.CheckCost].Status != domain.CheckWarn {
		t.Fatalf("expected cost warn, got %+v", d.Checks[domain.CheckCost])
	}
	if !f.dirs.Exists(d.ID) {
		t.Fatal("expected extracted files to remain")
	}
	evts, err := f.svc.Events(context.Background(), d.ID, 10)
	if err != nil || len(evts) != 2 {
		t.Fatalf("expected two events, got %d (%v)", len(evts), err)
	}
}

func TestIntakeRejectsInvalidArchive(t *testing.T) {
	f := newFixture(t, allPass())
	f.svc.newID = func() string { return "fixedid000000000" }

	_, err := f.svc.Intake(context.Background(), UploadInput{ZipPath: siteZip(t, map[string]string{"index.html": "x", "run.exe": "MZ"})})
	if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), ".exe") {
		t.Fatalf("expected validation error naming the extension, got %v", err)
	}
	if f.dirs.Exists("fixedid000000000") {
		t.Fatal("rejected archive must leave no directory")
	}
	if _, err := f.store.GetDeployment(context.Background(), "fixedid000000000"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected archive must leave no record, got %v", err)
	}
}

func TestIntakeChecksOutliveCaller(t *testing.T) {
	f := newFixture(t, allPass())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	checker := &cancellingChecker{cancel: cancel}
	f.svc.checker = checker

	d, err := f.svc.Intake(ctx, UploadInput{Name: "site", ZipPath: siteZip(t, map[string]string{"index.html": "<h1>hi</h1>"})})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if got := d.Checks[domain.CheckSecurity].Status; got != domain.CheckFail {
		t.Fatalf("expected security fail to survive the disconnect, got %s", got)
	}
	if !checker.hadDeadline {
		t.Fatal("expected checks to run under a deadline")
	}
	if _, err := f.svc.Deploy(context.Background(), d.ID, "demo"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestIntakeRecordsEventsAfterCallerCancels(t *testing.T) {
	f := newFixture(t, allPass())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := f.svc.Intake(ctx, UploadInput{Name: "site", ZipPath: siteZip(t, map[string]string{"index.html": "<h1>hi</h1>"})})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	evts, err := f.svc.Events(context.Background(), d.ID, 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var messages []string
	for _, e := range evts {
		messages = append(messages, e.Message)
	}
	got := strings.Join(messages, ",")
	if !strings.Contains(got, "archive accepted") || !strings.Contains(got, "checks recorded") {
		t.Fatalf("expected intake events, got %q", got)
	}
}

func TestDeployDemoAndProd(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()
	d := f.intake(t)

	demo, err := f.svc.Deploy(ctx, d.ID, "demo")
	if err != nil {
		t.Fatalf("Deploy demo: %v", err)
	}
	if demo.Status != domain.StatusDeployed || demo.URL != "http://sites.test/"+d.ID {
		t.Fatalf("unexpected deployment %+v", demo)
	}
	if demo.ExpiresAt == nil || !demo.ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("expected demo expiry one hour out, got %v", demo.ExpiresAt)
	}

	prod, err := f.svc.Deploy(ctx, d.ID, "prod")
	if err != nil {
		t.Fatalf("redeploy prod: %v", err)
	}
	if prod.Mode != domain.ModeProd || prod.ExpiresAt != nil {
		t.Fatalf("expected prod without expiry, got %+v", prod)
	}
}

func TestDeploySecurityFailBlocks(t *testing.T) {
	checks := allPass()
	checks[domain.CheckSecurity] = domain.Fail("critical")
	f := newFixture(t, checks)
	d := f.intake(t)

	if _, err := f.svc.Deploy(context.Background(), d.ID, "prod"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if len(f.gateway.provisioned) != 0 {
		t.Fatal("gateway must not be called for blocked deployments")
	}
	got, _ := f.svc.Get(context.Background(), d.ID)
	if got.Status != domain.StatusChecked {
		t.Fatalf("blocked deployment should stay checked, got %s", got.Status)
	}
}

func TestDeployErrors(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()

	if _, err := f.svc.Deploy(ctx, "missing", "demo"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	d := f.intake(t)
	if _, err := f.svc.Deploy(ctx, d.ID, "staging"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}

	if err := f.dirs.CleanupByID(d.ID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := f.svc.Deploy(ctx, d.ID, "demo"); !errors.Is(err, ErrFilesMissing) {
		t.Fatalf("expected ErrFilesMissing, got %v", err)
	}
}

func TestDeployRefusesOverdueDemo(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()
	d := f.intake(t)
	if _, err := f.svc.Deploy(ctx, d.ID, "demo"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)

	_, err := f.svc.Deploy(ctx, d.ID, "prod")
	if !errors.Is(err, ErrInvalidState) || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired ErrInvalidState, got %v", err)
	}
	if len(f.gateway.provisioned) != 1 {
		t.Fatalf("overdue demo must not be provisioned again, got %v", f.gateway.provisioned)
	}
	got, _ := f.svc.Get(ctx, d.ID)
	if got.Status != domain.StatusDeployed || got.Mode != domain.ModeDemo {
		t.Fatalf("record must be left for the sweep, got %s/%s", got.Status, got.Mode)
	}
}

func TestDeployRejectsPendingRecord(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()
	if err := f.store.CreateDeployment(ctx, &domain.Deployment{ID: "pending000000000", Name: "p", Status: domain.StatusPending, CreatedAt: f.now, UpdatedAt: f.now}); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if _, err := f.svc.Deploy(ctx, "pending000000000", "demo"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for pending, got %v", err)
	}
}

func TestDeployProvisioningFailureMarksFailed(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()
	d := f.intake(t)
	f.gateway.buildErr = errors.New("daemon unreachable")

	_, err := f.svc.Deploy(ctx, d.ID, "demo")
	if !errors.Is(err, ErrProvisioning) || !strings.Contains(err.Error(), "daemon unreachable") {
		t.Fatalf("expected ErrProvisioning with cause, got %v", err)
	}
	got, _ := f.svc.Get(ctx, d.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if _, err := f.svc.Deploy(ctx, d.ID, "demo"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("failed deployments are terminal, got %v", err)
	}
}

func TestDeleteTearsDown(t *testing.T) {
	f := newFixture(t, allPass())
	ctx := context.Background()
	d := f.intake(t)
	if _, err := f.svc.Deploy(ctx, d.ID, "demo"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	f.gateway.deprovErr = errors.New("container busy")

	if err := f.svc.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.gateway.deprovisioned) != 1 {
		t.Fatal("expected deprovision of a live deployment")
	}
	if f.dirs.Exists(d.ID) {
		t.Fatal("expected files removed")
	}
	if _, err := f.svc.Get(ctx, d.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected record removed, got %v", err)
	}
	if err := f.svc.Delete(ctx, d.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteCheckedSkipsDeprovision(t *testing.T) {
	f := newFixture(t, allPass())
	d := f.intake(t)
	if err := f.svc.Delete(context.Background(), d.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.gateway.deprovisioned) != 0 {
		t.Fatal("checked deployments have nothing to deprovision")
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, allPass())
	f.intake(t)
	f.now = f.now.Add(time.Minute)
	second := f.intake(t)

	list, err := f.svc.List(context.Background(), 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("unexpected list %v err=%v", list, err)
	}
	if list[0].ID != second.ID {
		t.Fatal("expected newest first")
	}
}
