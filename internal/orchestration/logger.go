package orchestration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pkgLogger is the package-level debug logger shared by the graph, pool,
// and selector, which have no direct handle on the orchestrator's logger.
var pkgLogger *DebugLogger
var pkgLoggerMu sync.RWMutex

// SetDebugLogger installs the package-level debug logger.
func SetDebugLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

// debugLog writes a message through the package-level logger, if one is set.
func debugLog(format string, args ...any) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()

	if l != nil {
		l.Log(format, args...)
	}
}

// DebugLogger is a thread-safe, file-backed logger for orchestration
// internals. A zero-value logger discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger opens (or creates) a log file at the given path,
// creating parent directories as needed. An empty path yields a no-op
// logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.Log("=== orchestration debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerForWorkDir creates a debug logger under the conversion
// working directory (.modporter/logs). Falls back to a no-op logger if
// the directory cannot be created.
func NewDebugLoggerForWorkDir(workDir string) *DebugLogger {
	logPath := filepath.Join(workDir, ".modporter", "logs", "orchestration-debug.log")
	l, err := NewDebugLogger(logPath)
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line. Safe on a nil or file-less logger.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// Close closes the underlying log file. Safe on a nil or file-less logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
