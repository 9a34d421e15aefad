// Package logging sets up console logging for the process.
//
// Packages log through otelslog bridges. Setup installs a global
// LoggerProvider that hands those records to a clog console handler, so the
// same records reach the terminal that an OpenTelemetry log pipeline would
// receive.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.opentelemetry.io/otel/log/global"
)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func NewHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}
	return clog.New(
		clog.WithWriter(w),
		clog.WithLevel(ParseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)
}

// Setup makes handler the destination of both slog.Default and every
// otelslog logger.
func Setup(level string, w io.Writer) *slog.Logger {
	handler := NewHandler(level, w)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	global.SetLoggerProvider(NewProvider(handler))
	return logger
}

// Provider is an OpenTelemetry LoggerProvider that writes to a slog.Handler.
type Provider struct {
	embedded.LoggerProvider
	handler slog.Handler
}

func NewProvider(handler slog.Handler) *Provider {
	return &Provider{handler: handler}
}

func (p *Provider) Logger(name string, _ ...log.LoggerOption) log.Logger {
	return &consoleLogger{handler: p.handler, scope: shortScope(name)}
}

// shortScope keeps the package path below the module, e.g. "core/narrator".
func shortScope(name string) string {
	if _, rest, ok := strings.Cut(name, "/reality-quest/"); ok {
		return rest
	}
	return name
}

type consoleLogger struct {
	embedded.Logger
	handler slog.Handler
	scope   string
}

// severityOffset undoes the otelslog mapping of slog levels to severities.
const severityOffset = slog.Level(log.SeverityInfo)

func levelOf(severity log.Severity) slog.Level {
	return slog.Level(severity) - severityOffset
}

func (l *consoleLogger) Enabled(ctx context.Context, param log.EnabledParameters) bool {
	return l.handler.Enabled(ctx, levelOf(param.Severity))
}

func (l *consoleLogger) Emit(ctx context.Context, record log.Record) {
	level := levelOf(record.Severity())
	if !l.handler.Enabled(ctx, level) {
		return
	}

	out := slog.NewRecord(record.Timestamp(), level, record.Body().AsString(), 0)
	out.AddAttrs(slog.String("scope", l.scope))
	record.WalkAttributes(func(kv log.KeyValue) bool {
		out.AddAttrs(slog.Attr{Key: kv.Key, Value: slogValue(kv.Value)})
		return true
	})
	_ = l.handler.Handle(ctx, out)
}

func slogValue(v log.Value) slog.Value {
	switch v.Kind() {
	case log.KindBool:
		return slog.BoolValue(v.AsBool())
	case log.KindInt64:
		return slog.Int64Value(v.AsInt64())
	case log.KindFloat64:
		return slog.Float64Value(v.AsFloat64())
	case log.KindString:
		return slog.StringValue(v.AsString())
	case log.KindBytes:
		return slog.AnyValue(v.AsBytes())
	case log.KindSlice:
		items := make([]any, 0, len(v.AsSlice()))
		for _, item := range v.AsSlice() {
			items = append(items, slogValue(item).Any())
		}
		return slog.AnyValue(items)
	case log.KindMap:
		attrs := make([]slog.Attr, 0, len(v.AsMap()))
		for _, kv := range v.AsMap() {
			attrs = append(attrs, slog.Attr{Key: kv.Key, Value: slogValue(kv.Value)})
		}
		return slog.GroupValue(attrs...)
	}
	return slog.AnyValue(nil)
}
