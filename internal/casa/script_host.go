package casa

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"simsweep/internal/logging"
	"simsweep/internal/tactile"
)

// outputTailLines is how much task output a TaskError keeps.
const outputTailLines = 20

// ScriptHostOptions configures a ScriptHost.
type ScriptHostOptions struct {
	Binary      string   // casa executable
	Args        []string // placed before the script path
	ScriptDir   string   // where rendered scripts are written
	LogDir      string   // per-task --logfile target; empty leaves CASA's default
	KeepScripts bool     // keep scripts of successful tasks too
	Timeout     time.Duration
	Environment []string // extra KEY=VALUE pairs
}

// ScriptHost runs each task as a generated Python script inside a fresh
// CASA process.
type ScriptHost struct {
	executor tactile.Executor
	opts     ScriptHostOptions

	mu        sync.Mutex
	sessionID string
	seq       int
}

// NewScriptHost creates a host that launches CASA through executor.
func NewScriptHost(executor tactile.Executor, opts ScriptHostOptions) *ScriptHost {
	if opts.Binary == "" {
		opts.Binary = "casa"
	}
	return &ScriptHost{
		executor: executor,
		opts:     opts,
	}
}

// SetSessionID tags every subsequent command with a sweep ID.
func (h *ScriptHost) SetSessionID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = id
}

// ImportFITS implements Host.
func (h *ScriptHost) ImportFITS(ctx context.Context, dir string, p ImportParams) error {
	_, err := h.run(ctx, dir, "importfits", taskTemplate, p.args())
	return err
}

// ImageHeader implements Host.
func (h *ScriptHost) ImageHeader(ctx context.Context, dir, image string) (*Header, error) {
	args := []taskArg{
		{"imagename", image},
		{"mode", "list"},
	}
	res, err := h.run(ctx, dir, "imhead", headerTemplate, args)
	if err != nil {
		return nil, err
	}
	return parseHeader(res.Stdout)
}

// Simobserve implements Host.
func (h *ScriptHost) Simobserve(ctx context.Context, dir string, p SimobserveParams) error {
	_, err := h.run(ctx, dir, "simobserve", taskTemplate, p.args())
	return err
}

// Clean implements Host.
func (h *ScriptHost) Clean(ctx context.Context, dir string, p CleanParams) error {
	_, err := h.run(ctx, dir, "clean", taskTemplate, p.args())
	return err
}

// ExportFITS implements Host.
func (h *ScriptHost) ExportFITS(ctx context.Context, dir string, p ExportParams) error {
	_, err := h.run(ctx, dir, "exportfits", taskTemplate, p.args())
	return err
}

func (h *ScriptHost) run(ctx context.Context, dir, task string, tmpl *template.Template, args []taskArg) (*tactile.ExecutionResult, error) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	sessionID := h.sessionID
	h.mu.Unlock()

	script, err := renderScript(tmpl, taskScript{
		Task:      task,
		SessionID: sessionID,
		Args:      args,
		Marker:    HeaderMarker,
	})
	if err != nil {
		return nil, err
	}

	path, err := h.writeScript(dir, sessionID, seq, task, script)
	if err != nil {
		return nil, err
	}

	arguments, err := h.arguments(path)
	if err != nil {
		return nil, err
	}

	cmd := tactile.Command{
		Binary:           h.opts.Binary,
		Arguments:        arguments,
		WorkingDirectory: dir,
		Environment:      h.opts.Environment,
		SessionID:        sessionID,
		RequestID:        fmt.Sprintf("%s-%d", task, seq),
		Tags:             map[string]string{"task": task},
	}
	if h.opts.Timeout > 0 {
		cmd.Limits = &tactile.ResourceLimits{TimeoutMs: h.opts.Timeout.Milliseconds()}
	}

	timer := logging.StartTimer(logging.CategoryCasa, "casa "+task)
	logging.Casa("Running %s in %s (script %s)", task, dir, path)

	res, err := h.executor.Execute(ctx, cmd)
	timer.Stop()
	if err != nil {
		logging.CasaError("%s could not start: %v", task, err)
		return nil, fmt.Errorf("casa %s: %w", task, err)
	}

	if taskErr := taskFailure(task, res); taskErr != nil {
		logging.CasaError("%v", taskErr)
		return res, taskErr
	}

	if !h.opts.KeepScripts {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.CasaDebug("Could not remove script %s: %v", path, err)
		}
	}

	logging.CasaDebug("%s finished in %s", task, res.Duration)
	return res, nil
}

// arguments builds the casa command line for script. With a LogDir the
// log file is named after the script.
func (h *ScriptHost) arguments(script string) ([]string, error) {
	var args []string
	if h.opts.LogDir != "" {
		if err := os.MkdirAll(h.opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create casa log directory: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(script), ".py") + ".log"
		args = append(args, "--logfile", filepath.Join(h.opts.LogDir, name))
	}
	args = append(args, h.opts.Args...)
	return append(args, script), nil
}

func (h *ScriptHost) writeScript(dir, sessionID string, seq int, task, script string) (string, error) {
	scriptDir := h.opts.ScriptDir
	if scriptDir == "" {
		scriptDir = dir
	}
	if err := os.MkdirAll(scriptDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}

	prefix := "run"
	if sessionID != "" {
		prefix = sessionID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
	}
	path := filepath.Join(scriptDir, fmt.Sprintf("%s_%03d_%s.py", prefix, seq, task))
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s script: %w", task, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// taskFailure converts an unsuccessful execution into a TaskError.
func taskFailure(task string, res *tactile.ExecutionResult) error {
	switch {
	case res.Killed:
		return &TaskError{Task: task, ExitCode: res.ExitCode, Killed: true, Reason: res.KillReason, Output: tail(res.Output(), outputTailLines)}
	case res.IsError():
		return &TaskError{Task: task, ExitCode: res.ExitCode, Reason: res.Error, Output: tail(res.Output(), outputTailLines)}
	case res.ExitCode != 0:
		return &TaskError{Task: task, ExitCode: res.ExitCode, Output: tail(res.Output(), outputTailLines)}
	}
	return nil
}

// parseHeader finds the marker line in imhead output.
func parseHeader(output string) (*Header, error) {
	var line string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); strings.HasPrefix(text, HeaderMarker) {
			line = strings.TrimPrefix(text, HeaderMarker)
		}
	}
	if line == "" {
		return nil, &TaskError{Task: "imhead", Reason: "no header line in output", Output: tail(output, outputTailLines)}
	}

	var raw struct {
		RestFreq *float64 `json:"restfreq"`
		CDelt3   *float64 `json:"cdelt3"`
		CDelt2   *float64 `json:"cdelt2"`
		BUnit    string   `json:"bunit"`
		DataMax  *float64 `json:"datamax"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse image header: %w", err)
	}

	var missing []string
	value := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}
	h := &Header{
		RestFreq: value("restfreq", raw.RestFreq),
		CDelt3:   value("cdelt3", raw.CDelt3),
		CDelt2:   value("cdelt2", raw.CDelt2),
		BUnit:    raw.BUnit,
		DataMax:  value("datamax", raw.DataMax),
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("image header is missing %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
