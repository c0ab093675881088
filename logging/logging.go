// Package logging wraps go.uber.org/zap (with an ipfs/go-log/v2 backend
// for the "system" logger namespace convention) behind the small, fixed
// call surface the rest of this module uses: Debug/Info/Warn/Error, the
// error-attached ErrorE/FatalE, and a FeedbackInfo for always-on,
// user-facing progress messages distinct from diagnostic log levels.
// The shape mirrors the teacher's net package (log.Debug(ctx, msg,
// logging.NewKV(...)), log.ErrorE(ctx, msg, err, ...), log.FeedbackInfo).
package logging

import (
	"context"
	"sync"

	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// KV is a single structured logging field.
type KV struct {
	Key   string
	Value any
}

func NewKV(key string, value any) KV {
	return KV{Key: key, Value: value}
}

func kvToFields(kvs []KV) []zap.Field {
	fields := make([]zap.Field, 0, len(kvs)+1)
	for _, kv := range kvs {
		fields = append(fields, zap.Any(kv.Key, kv.Value))
	}
	return fields
}

// ctxFieldsKey carries per-context structured fields (e.g. context_id) injected
// via WithContextID so every log line inside that context's goroutine
// carries it without threading it through every call site.
type ctxFieldsKey struct{}

// WithContextID returns a derived context that causes subsequent Logger
// calls made with it to carry a "context_id" field automatically.
func WithContextID(ctx context.Context, contextID string) context.Context {
	existing, _ := ctx.Value(ctxFieldsKey{}).([]KV)
	merged := append(append([]KV{}, existing...), NewKV("context_id", contextID))
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

func ambientFields(ctx context.Context) []KV {
	fields, _ := ctx.Value(ctxFieldsKey{}).([]KV)
	return fields
}

// Logger is a named logger instance, analogous to one produced by
// ipfs/go-log's MustNewLogger per subsystem.
type Logger struct {
	name string
	sys  *golog.ZapEventLogger
}

var (
	mu       sync.Mutex
	registry = map[string]*Logger{}
)

// MustNewLogger returns (creating if needed) the Logger for subsystem
// name, matching ipfs/go-log's per-subsystem logger registry.
func MustNewLogger(name string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := registry[name]; ok {
		return l
	}
	l := &Logger{name: name, sys: golog.Logger(name)}
	registry[name] = l
	return l
}

func (l *Logger) with(ctx context.Context, kvs []KV) []zap.Field {
	all := append(append([]KV{}, ambientFields(ctx)...), kvs...)
	return kvToFields(all)
}

func (l *Logger) Debug(ctx context.Context, msg string, kvs ...KV) {
	l.sys.Desugar().Debug(msg, l.with(ctx, kvs)...)
}

func (l *Logger) Info(ctx context.Context, msg string, kvs ...KV) {
	l.sys.Desugar().Info(msg, l.with(ctx, kvs)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, kvs ...KV) {
	l.sys.Desugar().Warn(msg, l.with(ctx, kvs)...)
}

func (l *Logger) Error(ctx context.Context, msg string, kvs ...KV) {
	l.sys.Desugar().Error(msg, l.with(ctx, kvs)...)
}

// ErrorE logs msg with err attached as a field, matching the teacher's
// log.ErrorE(ctx, msg, err, kvs...) call shape.
func (l *Logger) ErrorE(ctx context.Context, msg string, err error, kvs ...KV) {
	fields := append(l.with(ctx, kvs), zap.Error(err))
	l.sys.Desugar().Error(msg, fields...)
}

func (l *Logger) FatalE(ctx context.Context, msg string, err error, kvs ...KV) {
	fields := append(l.with(ctx, kvs), zap.Error(err))
	l.sys.Desugar().Fatal(msg, fields...)
}

// FeedbackInfo logs an always-on, user-facing progress message (node
// startup, join/leave, sync completion) as distinct from Debug/Info,
// which are diagnostic and may be filtered by level in production.
func (l *Logger) FeedbackInfo(ctx context.Context, msg string, kvs ...KV) {
	fields := append(l.with(ctx, kvs), zap.Bool("feedback", true))
	l.sys.Desugar().Info(msg, fields...)
}

func (l *Logger) FeedbackErrorE(ctx context.Context, msg string, err error, kvs ...KV) {
	fields := append(append(l.with(ctx, kvs), zap.Error(err)), zap.Bool("feedback", true))
	l.sys.Desugar().Error(msg, fields...)
}

func (l *Logger) FeedbackFatalE(ctx context.Context, msg string, err error, kvs ...KV) {
	fields := append(append(l.with(ctx, kvs), zap.Error(err)), zap.Bool("feedback", true))
	l.sys.Desugar().Fatal(msg, fields...)
}

// SetDebugLogging raises every registered subsystem to debug level,
// matching ipfs/go-log's SetDebugLogging used by CLI -v/--debug flags.
func SetDebugLogging() {
	golog.SetDebugLogging()
}

// SetLogLevel sets the level for a single subsystem by name.
func SetLogLevel(name, level string) error {
	return golog.SetLogLevel(name, level)
}
