package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/relay/internal/config"
)

func testSandbox(timeoutMs int) *Sandbox {
	return NewSandbox(config.SandboxConfig{TimeoutMs: timeoutMs, MaxSteps: 500000}, nil)
}

func TestSandboxRunsCode(t *testing.T) {
	out, err := testSandbox(5000).Run(context.Background(), SandboxInput{
		Code: `
total = 0
for i in range(10):
    total += i
print("total:", total)
result = total
`,
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !strings.Contains(out.Output, "total: 45") {
		t.Errorf("output = %q, want total: 45", out.Output)
	}
	if out.Value != "45" {
		t.Errorf("value = %q, want 45", out.Value)
	}
}

func TestSandboxReportsScriptErrors(t *testing.T) {
	_, err := testSandbox(5000).Run(context.Background(), SandboxInput{
		Code: `undefined_function()`,
	})
	if err == nil {
		t.Fatal("Run() = nil, want script error")
	}
	if !strings.Contains(err.Error(), "script error") {
		t.Errorf("error = %v, want script error classification", err)
	}
}

func TestSandboxRejectsEmptyCode(t *testing.T) {
	if _, err := testSandbox(5000).Run(context.Background(), SandboxInput{Code: "  "}); err == nil {
		t.Fatal("Run() = nil, want error for empty code")
	}
}

func TestSandboxStepLimitStopsRunaways(t *testing.T) {
	s := NewSandbox(config.SandboxConfig{TimeoutMs: 30000, MaxSteps: 1000}, nil)
	_, err := s.Run(context.Background(), SandboxInput{
		Code: `
x = 0
for i in range(1000000):
    x += 1
`,
	})
	if err == nil {
		t.Fatal("Run() = nil, want step limit error")
	}
}

func TestSandboxWallClockTimeout(t *testing.T) {
	// A busy loop under a generous step limit must still stop at the
	// deadline via thread cancellation.
	s := NewSandbox(config.SandboxConfig{TimeoutMs: 100, MaxSteps: 1 << 60}, nil)
	start := time.Now()
	_, err := s.Run(context.Background(), SandboxInput{
		Code: `
x = 0
for i in range(100000000):
    x += 1
`,
	})
	if err == nil {
		t.Fatal("Run() = nil, want timeout error")
	}
	if !errors.Is(err, ErrSandboxCancelled) {
		t.Fatalf("Run() = %v, want ErrSandboxCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() blocked %v, want prompt cancellation", elapsed)
	}
}

func TestSandboxHasNoAmbientAuthority(t *testing.T) {
	for _, code := range []string{
		`open("/etc/passwd")`,
		`import os`,
	} {
		if _, err := testSandbox(5000).Run(context.Background(), SandboxInput{Code: code}); err == nil {
			t.Errorf("Run(%q) = nil, want error (no ambient authority)", code)
		}
	}
}
