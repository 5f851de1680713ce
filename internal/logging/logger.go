// Package logging provides categorized file-based logging for scenesmith.
// Logs are written to <workspace>/.scenesmith/logs/ with one file per
// category. When debug mode is off the whole package is a silent no-op, so
// hot paths can log freely without guarding call sites.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and initialization
	CategoryAPI      Category = "api"      // LLM API calls
	CategoryPipeline Category = "pipeline" // Scene state machine and worker pool
	CategoryCodegen  Category = "codegen"  // Code generation and extraction
	CategoryRender   Category = "render"   // Render subprocess execution
	CategoryFixChain Category = "fixchain" // Fix-resolution tiers
	CategoryMemory   Category = "memory"   // Fix-memory store
	CategoryResearch Category = "research" // Web search and page fetch
	CategoryStore    Category = "store"    // SQLite operations
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
	stateMu   sync.RWMutex
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path and the logging settings from config. With debug
// disabled no files are created and every call becomes a no-op.
func Initialize(workspace string, debug bool, level string) error {
	stateMu.Lock()
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	stateMu.Unlock()

	if !debug {
		return nil
	}
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	stateMu.Lock()
	logsDir = filepath.Join(workspace, ".scenesmith", "logs")
	dir := logsDir
	stateMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== scenesmith logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	stateMu.RLock()
	enabled := debugMode && logsDir != ""
	dir := logsDir
	stateMu.RUnlock()
	if !enabled {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if debug mode is disabled
// =============================================================================

// Pipeline logs to the pipeline category.
func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category.
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debug(format, args...)
}

// Codegen logs to the codegen category.
func Codegen(format string, args ...interface{}) {
	Get(CategoryCodegen).Info(format, args...)
}

// CodegenDebug logs debug to the codegen category.
func CodegenDebug(format string, args ...interface{}) {
	Get(CategoryCodegen).Debug(format, args...)
}

// Render logs to the render category.
func Render(format string, args ...interface{}) {
	Get(CategoryRender).Info(format, args...)
}

// RenderDebug logs debug to the render category.
func RenderDebug(format string, args ...interface{}) {
	Get(CategoryRender).Debug(format, args...)
}

// FixChain logs to the fixchain category.
func FixChain(format string, args ...interface{}) {
	Get(CategoryFixChain).Info(format, args...)
}

// FixChainDebug logs debug to the fixchain category.
func FixChainDebug(format string, args ...interface{}) {
	Get(CategoryFixChain).Debug(format, args...)
}

// Memory logs to the memory category.
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// MemoryDebug logs debug to the memory category.
func MemoryDebug(format string, args ...interface{}) {
	Get(CategoryMemory).Debug(format, args...)
}

// Research logs to the research category.
func Research(format string, args ...interface{}) {
	Get(CategoryResearch).Info(format, args...)
}

// ResearchDebug logs debug to the research category.
func ResearchDebug(format string, args ...interface{}) {
	Get(CategoryResearch).Debug(format, args...)
}

// API logs to the api category.
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
