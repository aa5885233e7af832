//go:build !windows

package tactile

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDirectExecutor_Execute(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got failure: %s", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output(), "hello") {
		t.Errorf("Expected output to contain 'hello', got: %s", result.Output())
	}
}

func TestDirectExecutor_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:           "pwd",
		WorkingDirectory: dir,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	if got != resolved {
		t.Errorf("expected pwd %s, got %s", resolved, got)
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo boom >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsNonZeroExit() || result.ExitCode != 3 {
		t.Errorf("Expected exit 3, got %d (success=%v)", result.ExitCode, result.Success)
	}
	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("Expected stderr to contain boom, got %q", result.Stderr)
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	executor := NewDirectExecutor()

	start := time.Now()
	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Limits:    &ResourceLimits{TimeoutMs: 300},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Error("Expected command to be killed")
	}
	if !strings.Contains(result.KillReason, "timeout") {
		t.Errorf("Expected timeout kill reason, got %q", result.KillReason)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("timeout not enforced, took %s", elapsed)
	}
}

func TestDirectExecutor_Cancel(t *testing.T) {
	executor := NewDirectExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	result, err := executor.Execute(ctx, Command{Binary: "sleep", Arguments: []string{"10"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || result.KillReason != "context canceled" {
		t.Errorf("expected cancel kill, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
}

func TestDirectExecutor_MissingBinary(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{Binary: "definitely-not-a-real-binary-xyz"})
	if err != nil {
		t.Fatalf("Execute should report infrastructure failure in result, got %v", err)
	}
	if !result.IsError() {
		t.Error("expected infrastructure error")
	}
}

func TestDirectExecutor_Validate(t *testing.T) {
	executor := NewDirectExecutor()

	if err := executor.Validate(Command{}); err == nil {
		t.Error("expected error for empty binary")
	}
	if err := executor.Validate(Command{Binary: "echo", WorkingDirectory: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing working directory")
	}
	if _, err := executor.Execute(context.Background(), Command{}); err == nil {
		t.Error("Execute should return validation errors")
	}
}

func TestDirectExecutor_OutputTruncation(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxOutputBytes = 16
	executor := NewDirectExecutorWithConfig(cfg)

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "printf '%0100d' 0"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncation")
	}
	if len(result.Stdout) != 16 {
		t.Errorf("expected 16 bytes kept, got %d", len(result.Stdout))
	}
	if result.TruncatedBytes != 84 {
		t.Errorf("expected 84 discarded bytes, got %d", result.TruncatedBytes)
	}
}

func TestExecutorConfig_Merge(t *testing.T) {
	cfg := ExecutorConfig{
		DefaultWorkingDir: "/work",
		DefaultTimeout:    time.Minute,
		MaxTimeout:        2 * time.Minute,
		MaxOutputBytes:    100,
	}

	merged := cfg.Merge(Command{Binary: "casa"})
	if merged.WorkingDirectory != "/work" {
		t.Errorf("expected default dir, got %s", merged.WorkingDirectory)
	}
	if merged.Limits.TimeoutMs != 60000 || merged.Limits.MaxOutputBytes != 100 {
		t.Errorf("unexpected limits: %+v", merged.Limits)
	}

	capped := cfg.Merge(Command{Binary: "casa", Limits: &ResourceLimits{TimeoutMs: int64(time.Hour / time.Millisecond)}})
	if capped.Limits.TimeoutMs != 120000 {
		t.Errorf("expected timeout capped at 120000ms, got %d", capped.Limits.TimeoutMs)
	}
}

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	logger := NewAuditLogger()
	if err := logger.EnableFileLogging(path); err != nil {
		t.Fatalf("EnableFileLogging failed: %v", err)
	}

	var mu sync.Mutex
	var seen []AuditEventType
	logger.AddCallback(func(e AuditEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})

	executor := NewDirectExecutor()
	logger.Attach(executor)

	if _, err := executor.Execute(context.Background(), Command{Binary: "true", SessionID: "sweep-1"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(seen) != 2 || seen[0] != AuditEventStart || seen[1] != AuditEventComplete {
		t.Errorf("unexpected events: %v", seen)
	}

	snap := logger.GetMetrics()
	if snap.TotalExecutions != 1 || snap.SuccessfulExecutions != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("invalid audit line: %v", err)
		}
		if event.SessionID != "sweep-1" {
			t.Errorf("expected session sweep-1, got %q", event.SessionID)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 audit lines, got %d", lines)
	}
}
