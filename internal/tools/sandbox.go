package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/log"
)

// ErrSandboxCancelled indicates the script was stopped before completion.
var ErrSandboxCancelled = errors.New("sandbox execution cancelled")

// SandboxInput is the run_code tool input.
type SandboxInput struct {
	Code string `json:"code" jsonschema:"description=Starlark (Python-like) code to evaluate. Use print() for output; the value of the last expression is also returned."`
}

// SandboxOutput is the run_code tool output.
type SandboxOutput struct {
	Output string `json:"output"`
	Value  string `json:"value,omitempty"`
}

// Sandbox evaluates Starlark code with no filesystem, network, or process
// access. The interpreter is bounded by a step limit and a wall-clock
// deadline enforced via thread cancellation.
type Sandbox struct {
	cfg    config.SandboxConfig
	logger log.Logger
}

// NewSandbox creates a Sandbox bounded by cfg.
func NewSandbox(cfg config.SandboxConfig, logger log.Logger) *Sandbox {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 5000
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 500000
	}
	return &Sandbox{cfg: cfg, logger: logger}
}

// Timeout returns the effective wall-clock limit for one evaluation.
func (s *Sandbox) Timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutMs) * time.Millisecond
}

// Run evaluates the script and returns its printed output plus the value of
// a trailing expression, if any.
func (s *Sandbox) Run(ctx context.Context, in SandboxInput) (SandboxOutput, error) {
	if strings.TrimSpace(in.Code) == "" {
		return SandboxOutput{}, errors.New("code is required")
	}

	var printed strings.Builder
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			printed.WriteString(msg)
			printed.WriteByte('\n')
		},
	}
	thread.SetMaxExecutionSteps(s.cfg.MaxSteps)

	// The interpreter has no preemption; a watchdog cancels the thread when
	// the deadline or the caller's context expires.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-runCtx.Done():
			thread.Cancel("deadline exceeded")
		case <-watchdogDone:
		}
	}()

	// Loosen the module-oriented defaults so scripts read like plain
	// Python: top-level loops, reassignment, while. Recursion stays off.
	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}

	// Empty predeclared environment: only the Starlark universe is visible.
	globals, err := starlark.ExecFileOptions(opts, thread, "input.star", in.Code, starlark.StringDict{})
	if err != nil {
		if runCtx.Err() != nil {
			return SandboxOutput{}, fmt.Errorf("%w: %v", ErrSandboxCancelled, runCtx.Err())
		}
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return SandboxOutput{}, fmt.Errorf("script error: %s", evalErr.Backtrace())
		}
		return SandboxOutput{}, fmt.Errorf("script error: %w", err)
	}

	out := SandboxOutput{Output: printed.String()}
	// Scripts conventionally bind their answer to `result`.
	if v, ok := globals["result"]; ok {
		out.Value = v.String()
	}

	s.logger.Debug("sandbox run completed", "output_length", len(out.Output))
	return out, nil
}
