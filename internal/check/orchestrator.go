package check

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/metrics"
)

// Target identifies the files a check runs against.
type Target struct {
	DeploymentID string
	Dir          string
}

// Evaluator produces one check domain. The bool is false when the
// evaluator abstains and the domain is left out of the set.
type Evaluator interface {
	Domain() string
	Evaluate(ctx context.Context, target Target) (domain.CheckResult, bool, error)
}

// Orchestrator fans a target out to every evaluator.
type Orchestrator struct {
	evaluators []Evaluator
	metrics    metrics.Pipeline
	logger     *slog.Logger
}

// NewOrchestrator builds an orchestrator over evaluators.
func NewOrchestrator(logger *slog.Logger, m metrics.Pipeline, evaluators ...Evaluator) *Orchestrator {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Orchestrator{evaluators: evaluators, metrics: m, logger: logger.With("component", "checks")}
}

// Domains lists the domains the orchestrator may produce.
func (o *Orchestrator) Domains() []string {
	out := make([]string, 0, len(o.evaluators))
	for _, e := range o.evaluators {
		out = append(out, e.Domain())
	}
	return out
}

// Run evaluates target with every evaluator concurrently. Evaluator
// failures never cancel siblings and never surface as errors.
func (o *Orchestrator) Run(ctx context.Context, target Target) domain.CheckSet {
	var (
		mu  sync.Mutex
		set = domain.CheckSet{}
		g   errgroup.Group
	)
	for _, e := range o.evaluators {
		g.Go(func() error {
			start := time.Now()
			result, ok := o.evaluate(ctx, e, target)
			if !ok {
				return nil
			}
			o.metrics.ObserveCheck(e.Domain(), string(result.Status), time.Since(start))
			mu.Lock()
			set[e.Domain()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return set
}

func (o *Orchestrator) evaluate(ctx context.Context, e Evaluator, target Target) (result domain.CheckResult, ok bool) {
	log := o.logger.With("deployment_id", target.DeploymentID, "check", e.Domain())
	defer func() {
		if r := recover(); r != nil {
			log.Error("check panicked", "panic", r)
			result, ok = unavailable(fmt.Errorf("panic: %v", r)), true
		}
	}()

	result, ok, err := e.Evaluate(ctx, target)
	if err != nil {
		log.Warn("check failed", "error", err)
		return unavailable(err), true
	}
	if !ok {
		return domain.CheckResult{}, false
	}
	if !result.Status.Valid() {
		log.Warn("check returned invalid status", "status", result.Status)
		return domain.Warn("Check returned an invalid status", string(result.Status)), true
	}
	if result.Details == nil {
		result.Details = []string{}
	}
	return result, true
}
