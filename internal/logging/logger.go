// Package logging provides the printf-style logging contract used across the
// codebase plus a file-backed default implementation writing to
// ~/.sophia/debug.log. Log lines are sanitized so API keys and bearer tokens
// never reach disk.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a level name to a LogLevel. Unknown names mean INFO.
func ParseLevel(name string) LogLevel {
	switch name {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	rootInstance *fileLogger
	rootOnce     sync.Once
)

// fileLogger writes formatted lines to the shared debug log file and stdout.
type fileLogger struct {
	file      *os.File
	out       *log.Logger
	level     LogLevel
	mu        sync.Mutex
	component string
	toStdout  bool
}

func root() *fileLogger {
	rootOnce.Do(func() {
		rootInstance = newFileLogger("", DEBUG)
	})
	return rootInstance
}

// NewComponentLogger returns the default application logger scoped to a
// component name that appears in every line it emits.
func NewComponentLogger(component string) Logger {
	r := root()
	return &fileLogger{
		file:      r.file,
		out:       r.out,
		level:     r.level,
		component: component,
		toStdout:  r.toStdout,
	}
}

// SetRootLevel sets the minimum level of the shared root logger. Component
// loggers created afterwards inherit it.
func SetRootLevel(level LogLevel) {
	r := root()
	r.mu.Lock()
	r.level = level
	r.mu.Unlock()
}

// SetStdoutEcho controls whether the root logger mirrors lines to stdout.
// The MCP stdio transport owns stdout, so the serve-mcp path turns this off.
func SetStdoutEcho(enabled bool) {
	r := root()
	r.mu.Lock()
	r.toStdout = enabled
	r.mu.Unlock()
}

func newFileLogger(component string, level LogLevel) *fileLogger {
	l := &fileLogger{level: level, component: component, toStdout: true}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	dir := filepath.Join(home, ".sophia")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return l
	}
	file, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.file = file
	l.out = log.New(file, "", 0)
	return l
}

func (l *fileLogger) log(level LogLevel, format string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "SOPHIA"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), levelToString(level), component, file, line, message)
	logLine = sanitizeLogLine(logLine)

	if l.out != nil {
		l.out.Print(logLine)
	}
	if l.toStdout {
		fmt.Print(logLine)
	}
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

const redactedPlaceholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	keyValuePattern    = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	standaloneSecretPattern = regexp.MustCompile(
		`(?i)(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,}|xox[a-z]-[A-Za-z0-9\-]{10,})`,
	)
)

func sanitizeLogLine(line string) string {
	sanitized := bearerTokenPattern.ReplaceAllString(line, "${1}"+redactedPlaceholder)
	sanitized = keyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := keyValuePattern.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		return parts[1] + redactedPlaceholder + parts[3]
	})
	return standaloneSecretPattern.ReplaceAllString(sanitized, redactedPlaceholder)
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if logger == nil {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	switch len(flattened) {
	case 0:
		return Nop()
	case 1:
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
