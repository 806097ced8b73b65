// Package plugin runs external check programs over a newline-delimited JSON
// protocol on their standard streams.
package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/splax/airlock/internal/workspace"
)

const maxLineBytes = 1 << 20

// Outcome is the result of one plugin invocation.
type Outcome struct {
	// Result is the last result payload, nil when the plugin sent none.
	Result   json.RawMessage
	ExitCode int
	Duration time.Duration
}

// HasResult reports whether the plugin produced a result payload.
func (o Outcome) HasResult() bool {
	return len(o.Result) > 0
}

// Runner executes plugins against private copies of a deployment directory.
type Runner struct {
	copies *workspace.Manager
	logger *slog.Logger
	// WaitDelay bounds how long output is drained after the process exits or
	// is killed.
	WaitDelay time.Duration
}

// NewRunner builds a Runner that places copies under copies' root.
func NewRunner(copies *workspace.Manager, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{copies: copies, logger: logger.With("component", "plugin"), WaitDelay: 5 * time.Second}
}

// Run copies srcDir, starts the plugin, hands it the copy's path and collects
// its output until exit. onLog receives every log message and may be nil.
// The copy is removed before Run returns.
func (r *Runner) Run(ctx context.Context, d Descriptor, srcDir string, onLog func(string)) (Outcome, error) {
	log := r.logger.With("plugin", d.Name)
	started := time.Now()

	copyDir, err := r.copies.Snapshot(srcDir)
	if err != nil {
		return Outcome{}, fmt.Errorf("prepare plugin copy: %w", err)
	}
	defer func() {
		if err := r.copies.Cleanup(copyDir); err != nil {
			log.Warn("failed to remove plugin copy", "dir", copyDir, "error", err)
		}
	}()

	cmd := exec.CommandContext(ctx, shell, "-c", d.Cmd)
	cmd.Dir = d.Cwd
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stdoutW
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("plugin stdin: %w", err)
	}

	log.Info("starting plugin", "dir", copyDir, "cwd", d.Cwd)
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("start plugin %s: %w", d.Name, err)
	}

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		waitCh <- err
	}()

	if _, err := io.WriteString(stdin, copyDir+"\n"); err != nil {
		log.Warn("plugin did not accept input", "error", err)
	}
	stdin.Close()

	result := r.consume(stdout, log, onLog)

	waitErr := <-waitCh
	outcome := Outcome{Result: result, ExitCode: exitCode(cmd, waitErr), Duration: time.Since(started)}
	if ctx.Err() != nil {
		log.Warn("plugin cancelled", "exit_code", outcome.ExitCode, "error", ctx.Err())
	}
	log.Info("plugin finished", "exit_code", outcome.ExitCode, "has_result", outcome.HasResult(), "duration", outcome.Duration.String())
	return outcome, nil
}

// consume reads protocol frames until EOF and returns the last result.
func (r *Runner) consume(stdout io.Reader, log *slog.Logger, onLog func(string)) json.RawMessage {
	var result json.RawMessage
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := trimLine(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			log.Warn("non-JSON plugin output ignored", "line", string(line))
			continue
		}
		switch msg.Kind {
		case MessageLog:
			log.Info("plugin log", "msg", msg.Msg)
			if onLog != nil {
				onLog(msg.Msg)
			}
		case MessageResult:
			result = msg.Result
			log.Info("plugin result received")
		default:
			log.Warn("unknown plugin message type", "type", msg.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("plugin output unreadable, discarding remainder", "error", err)
		_, _ = io.Copy(io.Discard, stdout)
	}
	return result
}

func trimLine(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
