// Package httpx exposes the deployment pipeline over HTTP.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/service/deploy"
	"github.com/splax/airlock/internal/ws"
)

const (
	rateWindow         = time.Minute
	healthCheckTimeout = 2 * time.Second
	defaultListLimit   = 50
	defaultEventLimit  = 200
)

// DeploymentService is the pipeline surface served by the router.
type DeploymentService interface {
	Intake(ctx context.Context, in deploy.UploadInput) (*domain.Deployment, error)
	Deploy(ctx context.Context, id, mode string) (*domain.Deployment, error)
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	List(ctx context.Context, limit int) ([]domain.Deployment, error)
	Events(ctx context.Context, id string, limit int) ([]domain.DeploymentEvent, error)
	Delete(ctx context.Context, id string) error
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Options configures a Router.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	MaxUploadBytes  int64
	// UploadDir holds uploaded archives until intake finishes.
	UploadDir  string
	Limiter    RateLimiter
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Health     map[string]HealthCheck
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	svc       DeploymentService
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	metrics   httpMetrics
	gatherer  prometheus.Gatherer
	health    map[string]HealthCheck
	jwtSecret string
	rateLimit int
	maxUpload int64
	uploadDir string
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc DeploymentService, hub *ws.Hub, opts Options) *Router {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger.With("component", "http"),
		svc:    svc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		limiter:   opts.Limiter,
		metrics:   newHTTPMetrics(opts.Registerer),
		gatherer:  opts.Gatherer,
		health:    opts.Health,
		jwtSecret: strings.TrimSpace(opts.JWTSecret),
		rateLimit: opts.RateLimitPerMin,
		maxUpload: opts.MaxUploadBytes,
		uploadDir: opts.UploadDir,
	}
	if r.limiter == nil && r.rateLimit > 0 {
		r.limiter = NewMemoryRateLimiter()
	}
	r.routes()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() {
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.handle("GET /healthz", "", r.handleHealthz)
	r.handle("POST /api/upload", scopeWrite, r.handleUpload)
	r.handle("GET /api/deployments", scopeRead, r.handleList)
	r.handle("GET /api/deployments/{id}", scopeRead, r.handleGet)
	r.handle("GET /api/deployments/{id}/events", scopeRead, r.handleEvents)
	r.handle("POST /api/deployments/{id}/deploy", scopeDeploy, r.handleDeploy)
	r.handle("DELETE /api/deployments/{id}", scopeWrite, r.handleDelete)
	r.handle("GET /ws/deployments/{id}", scopeRead, r.handleStream)
}

// handle registers pattern behind audit, metrics, rate limiting and, when
// scope is set, authentication.
func (r *Router) handle(pattern, scope string, h http.HandlerFunc) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	if scope != "" {
		h = r.requireScope(scope, h)
		h = r.withRateLimit(route, r.rateLimit, h)
	}
	r.mux.HandleFunc(pattern, r.audit(route, h))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(r.health))
	for name := range r.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]any, len(names))
	for _, name := range names {
		if err := r.health[name](ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.metrics.observe(req.Method, route, status, duration)

		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if claims, ok := claimsFromContext(ctx); ok {
			fields = append(fields, "subject", claims.Subject)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
