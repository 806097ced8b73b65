package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/service/deploy"
	"github.com/splax/airlock/internal/ws"
	"github.com/splax/airlock/pkg/jwt"
)

type stubService struct {
	intakeErr  error
	deployErr  error
	uploaded   deploy.UploadInput
	zipContent []byte
	deployMode string
	deleted    []string
	known      map[string]bool
}

func (s *stubService) Intake(_ context.Context, in deploy.UploadInput) (*domain.Deployment, error) {
	s.uploaded = in
	s.zipContent, _ = os.ReadFile(in.ZipPath)
	if s.intakeErr != nil {
		return nil, s.intakeErr
	}
	return &domain.Deployment{ID: "abc", Name: in.Name, Status: domain.StatusChecked}, nil
}

func (s *stubService) Deploy(_ context.Context, id, mode string) (*domain.Deployment, error) {
	s.deployMode = mode
	if s.deployErr != nil {
		return nil, s.deployErr
	}
	return &domain.Deployment{ID: id, Status: domain.StatusDeployed, Mode: domain.Mode(mode), URL: "http://sites/" + id}, nil
}

func (s *stubService) Get(_ context.Context, id string) (*domain.Deployment, error) {
	if !s.known[id] {
		return nil, repository.ErrNotFound
	}
	return &domain.Deployment{ID: id, Status: domain.StatusChecked}, nil
}

func (s *stubService) List(context.Context, int) ([]domain.Deployment, error) {
	return []domain.Deployment{{ID: "abc"}}, nil
}

func (s *stubService) Events(_ context.Context, id string, _ int) ([]domain.DeploymentEvent, error) {
	if !s.known[id] {
		return nil, repository.ErrNotFound
	}
	return []domain.DeploymentEvent{{ID: "e1", DeploymentID: id, Message: "checks recorded"}}, nil
}

func (s *stubService) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, svc *stubService, opts Options) (*Router, *ws.Hub) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts.Registerer = reg
	opts.Gatherer = reg
	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	r := NewRouter(testLogger(), svc, hub, opts)
	t.Cleanup(r.Close)
	return r, hub
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func TestUploadStoresArchiveAndRunsIntake(t *testing.T) {
	svc := &stubService{}
	uploadDir := t.TempDir()
	r, _ := newTestRouter(t, svc, Options{UploadDir: uploadDir})

	body, contentType := multipartUpload(t, "my-site.zip", []byte("PK-data"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.uploaded.Name != "my-site" || string(svc.zipContent) != "PK-data" {
		t.Fatalf("unexpected intake input %+v content=%q", svc.uploaded, svc.zipContent)
	}
	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Fatal("expected temporary upload to be removed")
	}
	var got domain.Deployment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.ID != "abc" || got.Status != domain.StatusChecked {
		t.Fatalf("unexpected response %s (%v)", rec.Body.String(), err)
	}
}

func TestUploadRejections(t *testing.T) {
	svc := &stubService{intakeErr: fmt.Errorf("%w: Disallowed file type .exe", deploy.ErrValidation)}
	r, _ := newTestRouter(t, svc, Options{})

	body, contentType := multipartUpload(t, "site.tar", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-zip upload, got %d", rec.Code)
	}

	body, contentType = multipartUpload(t, "site.zip", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), ".exe") {
		t.Fatalf("expected validation message, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("plain"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file field, got %d", rec.Code)
	}
}

func TestDeployErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{deploy.ErrInvalidMode, http.StatusBadRequest},
		{deploy.ErrBlocked, http.StatusForbidden},
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: status is pending", deploy.ErrInvalidState), http.StatusConflict},
		{deploy.ErrFilesMissing, http.StatusConflict},
		{fmt.Errorf("%w: daemon unreachable", deploy.ErrProvisioning), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubService{deployErr: tc.err}
		r, _ := newTestRouter(t, svc, Options{})
		req := httptest.NewRequest(http.MethodPost, "/api/deployments/abc/deploy", strings.NewReader(`{"mode":"demo"}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "disk on fire") {
			t.Error("internal errors must not leak details")
		}
		if tc.want == http.StatusBadGateway && !strings.Contains(rec.Body.String(), "daemon unreachable") {
			t.Error("provisioning errors should carry the cause")
		}
	}
}

func TestDeploySuccess(t *testing.T) {
	svc := &stubService{}
	r, _ := newTestRouter(t, svc, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/deployments/abc/deploy", strings.NewReader(`{"mode":"prod"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.deployMode != "prod" {
		t.Fatalf("unexpected response %d mode=%s", rec.Code, svc.deployMode)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/deployments/abc/deploy", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rec.Code)
	}
}

func TestReadRoutes(t *testing.T) {
	svc := &stubService{known: map[string]bool{"abc": true}}
	r, _ := newTestRouter(t, svc, Options{})

	for path, want := range map[string]int{
		"/api/deployments":              http.StatusOK,
		"/api/deployments/abc":          http.StatusOK,
		"/api/deployments/nope":         http.StatusNotFound,
		"/api/deployments/abc/events":   http.StatusOK,
		"/api/deployments/nope/events":  http.StatusNotFound,
		"/api/deployments?limit=banana": http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s: expected %d, got %d", path, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/deployments/abc", nil))
	if rec.Code != http.StatusNoContent || len(svc.deleted) != 1 {
		t.Fatalf("unexpected delete response %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/deployments/abc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAuthScopes(t *testing.T) {
	const secret = "test-secret"
	svc := &stubService{known: map[string]bool{"abc": true}}
	r, _ := newTestRouter(t, svc, Options{JWTSecret: secret})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deployments/abc", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	readOnly, err := jwt.GenerateToken("ci", []string{jwt.ScopeRead}, secret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/deployments/abc", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with read scope, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/deployments/abc/deploy", strings.NewReader(`{"mode":"demo"}`))
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without deploy scope, got %d", rec.Code)
	}

	forged, _ := jwt.GenerateToken("ci", []string{jwt.ScopeRead}, "other-secret", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/api/deployments/abc", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	svc := &stubService{}
	r, _ := newTestRouter(t, svc, Options{RateLimitPerMin: 2})
	var last int
	for range 3 {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deployments", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last)
	}
}

func TestHealthz(t *testing.T) {
	svc := &stubService{}
	r, _ := newTestRouter(t, svc, Options{Health: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"gateway":  func(context.Context) error { return errors.New("docker down") },
	}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "degraded" || payload.Components["database"]["status"] != "up" || payload.Components["gateway"]["status"] != "down" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, &stubService{}, Options{})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/deployments", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `airlock_api_http_requests_total{method="GET",route="/api/deployments",status="200"} 1`) {
		t.Fatalf("request metric missing:\n%s", rec.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	svc := &stubService{known: map[string]bool{"abc": true}}
	r, hub := newTestRouter(t, svc, Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deployments/abc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep broadcasting until the frame lands.
	got := make(chan string, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- string(msg)
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		hub.Broadcast("abc", []byte(`{"message":"deployed"}`))
		select {
		case msg := <-got:
			if msg != `{"message":"deployed"}` {
				t.Fatalf("unexpected frame %s", msg)
			}
			return
		case <-deadline:
			t.Fatal("no frame received")
		case <-time.After(20 * time.Millisecond):
		}
	}

}

func TestEventStreamUnknownDeployment(t *testing.T) {
	r, _ := newTestRouter(t, &stubService{}, Options{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/deployments/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newMemoryRateLimiter(func() time.Time { return now })
	if d := rl.Allow("k", 1, time.Minute); !d.allowed || !d.windowEnd.Equal(now.Add(time.Minute)) {
		t.Fatalf("first request should pass: %+v", d)
	}
	if rl.Allow("k", 1, time.Minute).allowed {
		t.Fatal("second request should be limited")
	}
	if !rl.Allow("other", 1, time.Minute).allowed {
		t.Fatal("keys must be counted separately")
	}

	now = now.Add(time.Minute)
	if d := rl.Allow("k", 1, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("window should reset at its end: %+v", d)
	}

	now = now.Add(sweepEvery)
	rl.Allow("fresh", 1, time.Minute)
	if n := rl.size(); n != 1 {
		t.Fatalf("expected expired windows to be swept, %d left", n)
	}
}
