package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// sink is shared between a logger and every logger derived from it with
// With, so that concurrent workers never interleave partial lines.
type sink struct {
	mu        sync.Mutex
	output    io.Writer
	formatter Formatter
	// file receives a plain-text copy of every entry when configured.
	file          io.WriteCloser
	fileFormatter Formatter
}

// StandardLogger provides a baseline logger implementation backed by a single writer.
type StandardLogger struct {
	sink         *sink
	levelMu      sync.RWMutex
	level        Level
	fields       []Field
	reportCaller bool
}

// NewStandardLogger constructs a StandardLogger instance configured by the provided options.
func NewStandardLogger(options ...Option) *StandardLogger {
	log := &StandardLogger{
		level: LevelInfo,
		sink: &sink{
			output:    os.Stdout,
			formatter: &TextFormatter{TimestampFormat: time.RFC3339},
		},
	}

	for _, opt := range options {
		if opt != nil {
			opt(log)
		}
	}

	if log.sink.output == nil {
		log.sink.output = os.Stdout
	}
	if log.sink.formatter == nil {
		log.sink.formatter = &TextFormatter{TimestampFormat: time.RFC3339}
	}

	return log
}

// Option configures a StandardLogger during construction.
type Option func(*StandardLogger)

// WithLevel sets the minimum Level that will be emitted by the logger.
func WithLevel(level Level) Option {
	return func(l *StandardLogger) {
		l.level = level
	}
}

// WithOutput redirects log output to the provided writer.
func WithOutput(w io.Writer) Option {
	return func(l *StandardLogger) {
		l.sink.output = w
		if tf, ok := l.sink.formatter.(*TextFormatter); ok {
			tf.Output = w
		}
	}
}

// WithFormatter overrides the formatter used to render log entries.
func WithFormatter(formatter Formatter) Option {
	return func(l *StandardLogger) {
		l.sink.formatter = formatter
	}
}

// WithFields registers default fields for all subsequent log entries.
func WithFields(fields ...Field) Option {
	return func(l *StandardLogger) {
		l.fields = append(l.fields, fields...)
	}
}

// WithCaller enables caller reporting for each log entry.
func WithCaller() Option {
	return func(l *StandardLogger) {
		l.reportCaller = true
	}
}

// WithRotatingFile tees every entry, uncoloured and with full timestamps, into
// a size-rotated log file. An empty path leaves file logging disabled.
func WithRotatingFile(path string) Option {
	return func(l *StandardLogger) {
		if path == "" {
			return
		}
		_ = os.MkdirAll(filepath.Dir(path), 0o755)
		l.sink.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		l.sink.fileFormatter = &TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
			DisableColors:   true,
		}
	}
}

// Close releases the rotating log file, if any.
func (l *StandardLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// Debug emits a debug level log entry.
func (l *StandardLogger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info emits an info level log entry.
func (l *StandardLogger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn emits a warn level log entry.
func (l *StandardLogger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error emits an error level log entry.
func (l *StandardLogger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// DebugContext emits a debug level structured log entry. Operation
// fields carried by ctx are appended.
func (l *StandardLogger) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.logContext(ctx, LevelDebug, msg, fields...)
}

// InfoContext emits an info level structured log entry.
func (l *StandardLogger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.logContext(ctx, LevelInfo, msg, fields...)
}

// WarnContext emits a warn level structured log entry.
func (l *StandardLogger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.logContext(ctx, LevelWarn, msg, fields...)
}

// ErrorContext emits an error level structured log entry.
func (l *StandardLogger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.logContext(ctx, LevelError, msg, fields...)
}

// With derives a new logger enriched with the provided fields.
func (l *StandardLogger) With(fields ...Field) Logger {
	l.levelMu.RLock()
	level := l.level
	l.levelMu.RUnlock()

	base := append([]Field{}, l.fields...)
	return &StandardLogger{
		sink:         l.sink,
		level:        level,
		reportCaller: l.reportCaller,
		fields:       append(base, fields...),
	}
}

// SetLevel adjusts the minimum log level emitted.
func (l *StandardLogger) SetLevel(level Level) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum log level.
func (l *StandardLogger) GetLevel() Level {
	l.levelMu.RLock()
	defer l.levelMu.RUnlock()
	return l.level
}

func (l *StandardLogger) log(level Level, format string, args ...interface{}) {
	if level < l.GetLevel() {
		return
	}

	entry := &Entry{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Fields:  append([]Field{}, l.fields...),
	}
	if l.reportCaller {
		entry.Caller = getCaller()
	}

	l.sink.write(entry)
}

func (l *StandardLogger) logContext(ctx context.Context, level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}

	allFields := append([]Field{}, l.fields...)
	allFields = append(allFields, fields...)
	allFields = append(allFields, operationFieldsFromContext(ctx)...)

	entry := &Entry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  allFields,
	}
	if l.reportCaller {
		entry.Caller = getCaller()
	}

	l.sink.write(entry)
}

func (s *sink) write(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.formatter == nil {
		fmt.Fprintf(os.Stderr, "logger formatter is not configured\n")
		return
	}

	bytes, err := s.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to format log entry: %v\n", err)
		return
	}
	if _, err := s.output.Write(bytes); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log entry: %v\n", err)
	}

	if s.file == nil || s.fileFormatter == nil {
		return
	}
	plain, err := s.fileFormatter.Format(entry)
	if err != nil {
		return
	}
	if _, err := s.file.Write(plain); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log file: %v\n", err)
	}
}

func getCaller() *Caller {
	// skip: getCaller -> log/logContext -> Info/InfoContext -> user
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		return nil
	}

	call := &Caller{
		File: file,
		Line: line,
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		call.Function = fn.Name()
	}
	return call
}
