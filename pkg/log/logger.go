package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// Format is the output format: json or console.
	Format string `koanf:"format" yaml:"format" validate:"oneof=json console"`

	// Output is the writer for log output. Default: os.Stderr
	Output io.Writer `koanf:"-" yaml:"-"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: os.Stderr}
}

// ParseLevel converts a level name to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValueError("log.ParseLevel", fmt.Sprintf("invalid log level %q", level))
	}
}

// ZerologProvider is the LoggerProvider backed by zerolog.
// All loggers handed out share the provider's level.
type ZerologProvider struct {
	root  zerolog.Logger
	level *atomic.Int64
}

// NewZerologProvider builds a provider from cfg.
func NewZerologProvider(cfg Config) (*ZerologProvider, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	switch cfg.Format {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	case "json", "":
	default:
		return nil, errors.NewValueError("log.NewZerologProvider", fmt.Sprintf("invalid log format %q", cfg.Format))
	}

	lv := &atomic.Int64{}
	lv.Store(int64(level))
	return &ZerologProvider{
		root:  zerolog.New(out).With().Timestamp().Logger(),
		level: lv,
	}, nil
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{zl: p.root, level: p.level}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{zl: p.root.With().Str(ComponentKey, name).Logger(), level: p.level}
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.level.Store(int64(level))
}

type zerologLogger struct {
	zl    zerolog.Logger
	level *atomic.Int64
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.emit(LevelDebug, msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.emit(LevelInfo, msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.emit(LevelWarn, msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { l.emit(LevelError, msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	pairs := normalizeFields(fields)
	ctx := l.zl.With().Fields(pairs)
	if st := stacktraceOf(pairs); st != "" {
		ctx = ctx.Str(StacktraceKey, st)
	}
	return &zerologLogger{zl: ctx.Logger(), level: l.level}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return int64(level) >= l.level.Load()
}

func (l *zerologLogger) emit(level Level, msg string, fields []any) {
	if !l.Enabled(context.Background(), level) {
		return
	}
	var e *zerolog.Event
	switch level {
	case LevelDebug:
		e = l.zl.Debug()
	case LevelInfo:
		e = l.zl.Info()
	case LevelWarn:
		e = l.zl.Warn()
	default:
		e = l.zl.Error()
	}
	pairs := normalizeFields(fields)
	e = e.Fields(pairs)
	if st := stacktraceOf(pairs); st != "" {
		e = e.Str(StacktraceKey, st)
	}
	e.Msg(msg)
}

// warning writes a pkg/errors warning, using its structured form when it has one.
func (l *zerologLogger) warning(w error) {
	if !l.Enabled(context.Background(), LevelWarn) {
		return
	}
	e := l.zl.Warn()
	if m, ok := w.(zerolog.LogObjectMarshaler); ok {
		e = e.Object("warning", m)
	}
	e.Msg(w.Error())
}

// normalizeFields turns slog-style arguments into key/value pairs.
// A bare error is keyed "error"; a dangling key gets a nil value.
func normalizeFields(fields []any) []any {
	pairs := make([]any, 0, len(fields)+1)
	for i := 0; i < len(fields); {
		if err, ok := fields[i].(error); ok {
			pairs = append(pairs, zerolog.ErrorFieldName, err)
			i++
			continue
		}
		key := fmt.Sprint(fields[i])
		var value any
		if i+1 < len(fields) {
			value = fields[i+1]
		}
		pairs = append(pairs, key, value)
		i += 2
	}
	return pairs
}

func stacktraceOf(pairs []any) string {
	for i := 1; i < len(pairs); i += 2 {
		if err, ok := pairs[i].(error); ok {
			if st := extractStacktrace(err); st != "" {
				return st
			}
		}
	}
	return ""
}

func extractStacktrace(err error) string {
	safeDetails := cerrors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

var (
	mu              sync.RWMutex
	defaultProvider LoggerProvider
)

func init() {
	p, _ := NewZerologProvider(DefaultConfig())
	defaultProvider = p
}

// Setup replaces the process-wide provider and routes pkg/errors warnings to it.
func Setup(cfg Config) error {
	p, err := NewZerologProvider(cfg)
	if err != nil {
		return err
	}
	SetProvider(p)
	RouteWarnings(p.GetLoggerWithName("warnings"))
	return nil
}

// SetProvider replaces the process-wide provider.
func SetProvider(p LoggerProvider) {
	mu.Lock()
	defer mu.Unlock()
	defaultProvider = p
}

// GetLogger returns the default logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultProvider.GetLogger()
}

// GetLoggerWithName returns a component logger from the default provider.
func GetLoggerWithName(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultProvider.GetLoggerWithName(name)
}

// RouteWarnings sends errors.Warn output to logger.
func RouteWarnings(logger Logger) {
	if zl, ok := logger.(*zerologLogger); ok {
		errors.SetZerologWarnFunc(zl.warning)
		return
	}
	errors.SetZerologWarnFunc(func(w error) {
		logger.Warn(w.Error(), "warning", w)
	})
}

// Since returns milliseconds elapsed since start, for DurationMsKey fields.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
