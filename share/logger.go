package gwshare

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel specifies the level of spew that shoud go to the log
type LogLevel int

const (
	// LogLevelUnknown is a default value for LogLevel. It's
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for Warning messages
	LogLevelWarning

	// LogLevelInfo is for Info messages
	LogLevelInfo

	// LogLevelDebug is for debug messaged
	LogLevelDebug

	// LogLevelTrace is for trace messages
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

var logrusLevels = [...]logrus.Level{
	logrus.InfoLevel, logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel,
	logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel,
}

var nameToLogLevel = func() map[string]LogLevel {
	var result = make(map[string]LogLevel)
	for i, name := range logLevelNames {
		result[name] = LogLevel(i)
	}
	result["warn"] = LogLevelWarning
	return result
}()

// StringToLogLevel converts a string to a LogLevel
func StringToLogLevel(s string) LogLevel {
	result, ok := nameToLogLevel[strings.ToLower(s)]
	if !ok {
		result = LogLevelUnknown
	}
	return result
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// FromString initializes a LogLevel from a string
func (x *LogLevel) FromString(s string) error {
	result := StringToLogLevel(s)
	if result == LogLevelUnknown {
		return fmt.Errorf("Unknown log level: \"%s\"", s)
	}
	*x = result
	return nil
}

// Logger is an interface for a logging component that supports logging levels and prefix forking
type Logger interface {
	// Prefix returns the Logger's prefix string (does not include ": " trailer)
	Prefix() string

	GetLogLevel() LogLevel
	SetLogLevel(logLevel LogLevel)

	// Panicf outputs a log message and then panics
	Panicf(f string, args ...interface{})

	// PanicOnError does nothing if err is nil; otherwise
	// outputs a log message and then panics
	PanicOnError(err error)

	// Logf outputs to a Logger iff logging level is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	// ELogf outputs to a Logger iff ERROR logging level is enabled
	ELogf(f string, args ...interface{})

	// WLogf outputs to a Logger iff WARNING logging level is enabled
	WLogf(f string, args ...interface{})

	// ILogf outputs to a Logger iff INFO logging level is enabled
	ILogf(f string, args ...interface{})

	// DLogf outputs to a Logger iff DEBUG logging level is enabled
	DLogf(f string, args ...interface{})

	// TLogf outputs to a Logger iff TRACE logging level is enabled
	TLogf(f string, args ...interface{})

	// Errorf returns an error object with a description string that has the
	// Logger's prefix
	Errorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// ELogErrorf outputs an error message to a Logger iff logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	ELogErrorf(f string, args ...interface{}) error

	// WLogErrorf is ELogErrorf at WARNING level
	WLogErrorf(f string, args ...interface{}) error

	// DLogErrorf is ELogErrorf at DEBUG level
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger that has an additional formatted string appended onto
	// an existing logger's prefix (with ": " added between)
	Fork(prefix string, args ...interface{}) Logger
}

// BasicLogger is a logical log output stream with a level filter
// and a prefix added to each output record. Records are written through a
// shared logrus backend, with the prefix in the "component" field.
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC  string
	backend  *logrus.Logger
	entry    *logrus.Entry
	logLevel LogLevel
}

// NewBackend creates a logrus logger that writes text records to out.
// The backend passes everything; BasicLogger does the level filtering.
func NewBackend(out io.Writer) *logrus.Logger {
	backend := logrus.New()
	backend.SetOutput(out)
	backend.SetLevel(logrus.TraceLevel)
	backend.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return backend
}

// NewFileBackend creates a backend that writes to stderr and, if logFile
// is not empty, to a size-rotated log file
func NewFileBackend(logFile string) *logrus.Logger {
	if logFile == "" {
		return NewBackend(os.Stderr)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return NewBackend(io.MultiWriter(os.Stderr, rotator))
}

// NewLogger creates a new Logger with a given prefix, emitting output
// to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	return NewLoggerWithBackend(prefix, NewBackend(os.Stderr), logLevel)
}

// NewLoggerWithBackend creates a new Logger with a given prefix that writes
// through an existing logrus backend
func NewLoggerWithBackend(prefix string, backend *logrus.Logger, logLevel LogLevel) Logger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	entry := logrus.NewEntry(backend)
	if prefix != "" {
		entry = entry.WithField("component", prefix)
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		backend:  backend,
		entry:    entry,
		logLevel: logLevel,
	}
}

// Logf outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if logLevel > l.logLevel && logLevel > LogLevelFatal {
		return
	}
	msg := fmt.Sprintf(f, args...)
	switch logLevel {
	case LogLevelPanic:
		l.entry.Panic(msg)
	case LogLevelFatal:
		l.entry.Fatal(msg)
	default:
		l.entry.Log(logrusLevels[logLevel], msg)
	}
}

// LogErrorf outputs an error message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) LogErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	err := l.Errorf(f, args...)
	l.Logf(logLevel, f, args...)
	return err
}

// PanicOnError does nothing if err is nil; otherwise
// outputs a log message if logLevel permits, and then panics
func (l *BasicLogger) PanicOnError(err error) {
	if err != nil {
		l.Panicf("%s", err)
	}
}

// Panicf outputs a formatted log message, and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) {
	l.Logf(LogLevelPanic, f, args...)
}

// ELogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ELogf(f string, args ...interface{}) {
	l.Logf(LogLevelError, f, args...)
}

// WLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) WLogf(f string, args ...interface{}) {
	l.Logf(LogLevelWarning, f, args...)
}

// ILogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ILogf(f string, args ...interface{}) {
	l.Logf(LogLevelInfo, f, args...)
}

// DLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) DLogf(f string, args ...interface{}) {
	l.Logf(LogLevelDebug, f, args...)
}

// TLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) TLogf(f string, args ...interface{}) {
	l.Logf(LogLevelTrace, f, args...)
}

// Errorf returns an error object with a description string that has the
// Logger's prefix
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	return errors.New(l.Sprintf(f, args...))
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

// ELogErrorf logs at ERROR level and returns a prefixed error
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.LogErrorf(LogLevelError, f, args...)
}

// WLogErrorf logs at WARNING level and returns a prefixed error
func (l *BasicLogger) WLogErrorf(f string, args ...interface{}) error {
	return l.LogErrorf(LogLevelWarning, f, args...)
}

// DLogErrorf logs at DEBUG level and returns a prefixed error
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.LogErrorf(LogLevelDebug, f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between)
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	newPrefix := fmt.Sprintf(prefix, args...)
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + newPrefix
	}
	return NewLoggerWithBackend(newPrefix, l.backend, l.logLevel)
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.logLevel = logLevel
}
