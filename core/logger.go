package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger every component accepts. Fields are
// emitted as-is; by convention each call carries an "operation" field.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger can derive a child logger tagged with a component.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Components start with it until
// SetLogger is called.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

var logLevels = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// ProductionLogger writes leveled, structured log lines.
//
// JSON output is meant for log aggregation; text output for local development.
// Child loggers created with WithComponent share the parent's writer and level.
type ProductionLogger struct {
	shared      *loggerState
	serviceName string
	component   string
}

type loggerState struct {
	mu     sync.RWMutex
	level  string
	format string
	output io.Writer
	closer io.Closer
}

// NewProductionLogger creates a logger from the logging section of the config.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	state := &loggerState{
		level:  strings.ToUpper(cfg.Level),
		format: cfg.Format,
		output: os.Stdout,
	}
	if _, ok := logLevels[state.level]; !ok {
		state.level = "INFO"
	}
	if state.format == "" {
		state.format = "json"
	}

	switch cfg.Output {
	case "stderr":
		state.output = os.Stderr
	case "file":
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		state.output = rotating
		state.closer = rotating
	}

	return &ProductionLogger{shared: state, serviceName: serviceName, component: "apiflow"}
}

// WithComponent returns a logger that tags every line with the given component.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{shared: l.shared, serviceName: l.serviceName, component: component}
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	l.shared.output = w
}

// SetLevel dynamically updates the log level
func (l *ProductionLogger) SetLevel(level string) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	l.shared.level = strings.ToUpper(level)
}

// Close releases the rotating log file, if one is in use.
func (l *ProductionLogger) Close() error {
	if l.shared.closer != nil {
		return l.shared.closer.Close()
	}
	return nil
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.shared.mu.RLock()
	defer l.shared.mu.RUnlock()

	if logLevels[level] < logLevels[l.shared.level] {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	if l.shared.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
		return
	}
	l.logText(timestamp, level, msg, fields)
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; reserved {
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}

	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.shared.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	fmt.Fprintf(l.shared.output, "%s [%s] [%s:%s] %s%s\n",
		timestamp, level, l.serviceName, l.component, msg, b.String())
}
