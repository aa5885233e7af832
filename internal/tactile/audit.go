package tactile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogger fans execution events out to callbacks, an optional JSON-lines
// file, and aggregate metrics.
type AuditLogger struct {
	mu sync.RWMutex

	callbacks  []func(AuditEvent)
	fileLogger *AuditFileLogger
	metrics    *ExecutionMetrics
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{
		metrics: NewExecutionMetrics(),
	}
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// EnableFileLogging enables logging to a file.
func (l *AuditLogger) EnableFileLogging(path string) error {
	fl, err := NewAuditFileLogger(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileLogger != nil {
		l.fileLogger.Close()
	}
	l.fileLogger = fl
	return nil
}

// Close closes the audit logger and any file handles.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		err := l.fileLogger.Close()
		l.fileLogger = nil
		return err
	}
	return nil
}

// Log logs an audit event.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	fileLogger := l.fileLogger
	metrics := l.metrics
	l.mu.RUnlock()

	metrics.RecordEvent(event)

	for _, cb := range callbacks {
		cb(event)
	}

	if fileLogger != nil {
		_ = fileLogger.Write(event)
	}
}

// Attach routes an executor's events into this logger.
func (l *AuditLogger) Attach(executor AuditedExecutor) {
	executor.SetAuditCallback(l.Log)
}

// GetMetrics returns the current execution metrics.
func (l *AuditLogger) GetMetrics() ExecutionMetricsSnapshot {
	return l.metrics.Snapshot()
}

// AuditFileLogger writes audit events to a file in JSON Lines format.
type AuditFileLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditFileLogger creates a new file logger.
func NewAuditFileLogger(path string) (*AuditFileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &AuditFileLogger{
		file: file,
		path: path,
	}, nil
}

// Write writes an event to the log file.
func (l *AuditFileLogger) Write(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("log file not open")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the log file.
func (l *AuditFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ExecutionMetrics tracks aggregate execution statistics.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	killedExecutions     int64
	totalDurationMs      int64
	totalCPUTimeMs       int64
	lastEventTime        time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++

	case AuditEventComplete:
		if event.Result != nil {
			if event.Result.ExitCode == 0 {
				m.successfulExecutions++
			} else {
				m.failedExecutions++
			}
			m.totalDurationMs += event.Result.Duration.Milliseconds()
			if event.Result.ResourceUsage != nil {
				m.totalCPUTimeMs += event.Result.ResourceUsage.TotalCPUTimeMs()
			}
		}

	case AuditEventKilled:
		m.killedExecutions++
		if event.Result != nil {
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedExecutions++
	}
}

// ExecutionMetricsSnapshot is a point-in-time snapshot of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions      int64     `json:"total_executions"`
	SuccessfulExecutions int64     `json:"successful_executions"`
	FailedExecutions     int64     `json:"failed_executions"`
	KilledExecutions     int64     `json:"killed_executions"`
	TotalDurationMs      int64     `json:"total_duration_ms"`
	TotalCPUTimeMs       int64     `json:"total_cpu_time_ms"`
	LastEventTime        time.Time `json:"last_event_time"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ExecutionMetricsSnapshot{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		FailedExecutions:     m.failedExecutions,
		KilledExecutions:     m.killedExecutions,
		TotalDurationMs:      m.totalDurationMs,
		TotalCPUTimeMs:       m.totalCPUTimeMs,
		LastEventTime:        m.lastEventTime,
	}
}
