// Package logger provides a global, Sugared Zap logger with optional
// OpenTelemetry integration. Fields can be attached to a context with
// WithFields so that every log line emitted further down the call chain
// carries them, together with the active trace and span ids.
package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/pkg/telemetry"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// baseLogger is the process-wide logger. It stays a no-op until Init runs.
	baseLogger *zap.SugaredLogger = zap.NewNop().Sugar()

	initOnce sync.Once
)

type ctxKey struct{}

type config struct {
	level  string
	output io.Writer
}

// Option configures the logger before initialization.
type Option func(*config)

// WithLevel sets the minimum log level (debug, info, warn, error, panic, fatal).
func WithLevel(l string) Option {
	return func(c *config) {
		c.level = l
	}
}

// WithOutput redirects JSON output away from stdout.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.output = w
	}
}

// Init configures the global logger. By default it writes JSON to stdout at
// the "info" level. When telemetry.LoggerProvider returns a provider, records
// are also forwarded through the otelzap bridge. Only the first successful
// call has any effect.
func Init(opts ...Option) error {
	cfg := config{level: "info", output: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}

	level, err := zapcore.ParseLevel(cfg.level)
	if err != nil {
		return err
	}

	initOnce.Do(func() {
		cores := []zapcore.Core{
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(cfg.output),
				level,
			),
		}

		if lp := telemetry.LoggerProvider(); lp != nil {
			cores = append(cores, otelzap.NewCore("github.com/gabapcia/xcmwatch", otelzap.WithLoggerProvider(lp)))
		}

		baseLogger = zap.New(zapcore.NewTee(cores...)).Sugar()
	})

	return nil
}

// WithFields returns a copy of ctx whose logger carries the given key/value pairs.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, fromCtx(ctx).With(keysAndValues...))
}

// fromCtx returns the logger stored in ctx, falling back to the base logger.
func fromCtx(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
		return l
	}
	return baseLogger
}

// deriveFromCtx adds the active span, if any, to the context logger.
func deriveFromCtx(ctx context.Context) *zap.SugaredLogger {
	l := fromCtx(ctx)

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		l = l.With("trace.id", sc.TraceID().String(), "span.id", sc.SpanID().String())
	}

	return l
}

// Sync flushes any buffered log entries.
func Sync() error {
	return baseLogger.Sync()
}

// Debug logs a debug-level message with optional key/value context.
func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Debugw(msg, keysAndValues...)
}

// Info logs an info-level message with optional key/value context.
func Info(ctx context.Context, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Infow(msg, keysAndValues...)
}

// Warn logs a warn-level message with optional key/value context.
func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Warnw(msg, keysAndValues...)
}

// Error logs an error-level message with optional key/value context.
func Error(ctx context.Context, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Errorw(msg, keysAndValues...)
}

// Fatal logs a fatal-level message and exits the process.
func Fatal(ctx context.Context, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Fatalw(msg, keysAndValues...)
}
