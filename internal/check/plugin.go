package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/metrics"
	"github.com/splax/airlock/internal/plugin"
)

// PluginRunner executes one plugin against a directory.
type PluginRunner interface {
	Run(ctx context.Context, d plugin.Descriptor, srcDir string, onLog func(string)) (plugin.Outcome, error)
}

// LogSink receives plugin log lines for a deployment.
type LogSink func(ctx context.Context, deploymentID, source, message string)

// PluginEvaluator adapts an external plugin to the Evaluator interface.
type PluginEvaluator struct {
	runner     PluginRunner
	descriptor plugin.Descriptor
	timeout    time.Duration
	sink       LogSink
	metrics    metrics.Pipeline
	logger     *slog.Logger
}

// NewPluginEvaluator builds an evaluator for descriptor. A zero timeout
// leaves the run bounded only by ctx.
func NewPluginEvaluator(runner PluginRunner, descriptor plugin.Descriptor, timeout time.Duration, sink LogSink, m metrics.Pipeline, logger *slog.Logger) *PluginEvaluator {
	if m == nil {
		m = metrics.Noop{}
	}
	return &PluginEvaluator{
		runner:     runner,
		descriptor: descriptor,
		timeout:    timeout,
		sink:       sink,
		metrics:    m,
		logger:     logger.With("plugin", descriptor.Name),
	}
}

func (e *PluginEvaluator) Domain() string { return domain.PluginDomain(e.descriptor.Name) }

// Evaluate abstains when the plugin exits cleanly without a result.
func (e *PluginEvaluator) Evaluate(ctx context.Context, target Target) (domain.CheckResult, bool, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	onLog := func(msg string) {
		if e.sink != nil {
			e.sink(ctx, target.DeploymentID, e.Domain(), msg)
		}
	}
	outcome, err := e.runner.Run(runCtx, e.descriptor, target.Dir, onLog)
	if err != nil {
		e.metrics.IncPluginRun(e.descriptor.Name, "error")
		return domain.CheckResult{}, true, fmt.Errorf("plugin %s: %w", e.descriptor.Name, err)
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	switch {
	case outcome.HasResult():
		e.metrics.IncPluginRun(e.descriptor.Name, "result")
		return DecodeResult(outcome.Result), true, nil
	case timedOut:
		e.metrics.IncPluginRun(e.descriptor.Name, "timeout")
		return domain.Warn(fmt.Sprintf("Plugin timed out after %s", e.timeout)), true, nil
	case outcome.ExitCode != 0:
		e.metrics.IncPluginRun(e.descriptor.Name, "failed")
		return domain.Warn(fmt.Sprintf("Plugin exited with code %d without a result", outcome.ExitCode)), true, nil
	default:
		e.metrics.IncPluginRun(e.descriptor.Name, "abstain")
		e.logger.Info("plugin abstained", "deployment_id", target.DeploymentID)
		return domain.CheckResult{}, false, nil
	}
}
