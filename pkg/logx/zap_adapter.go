// Package logx adapts zap to the tracker.Logger interface.
package logx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	tracker "github.com/goliatone/go-tracker"
)

// ZapLogger records tracker events on a zap logger.
type ZapLogger struct {
	logger *zap.Logger
}

var _ tracker.Logger = (*ZapLogger)(nil)

func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		return &ZapLogger{logger: zap.NewNop()}
	}
	return &ZapLogger{logger: l}
}

// Zap returns the underlying logger.
func (z *ZapLogger) Zap() *zap.Logger {
	if z == nil || z.logger == nil {
		return zap.NewNop()
	}
	return z.logger
}

// With returns a logger that adds fields to every event.
func (z *ZapLogger) With(fields ...zap.Field) *ZapLogger {
	return &ZapLogger{logger: z.Zap().With(fields...)}
}

// Log implements tracker.Logger.
func (z *ZapLogger) Log(event tracker.LogEvent) {
	l := z.Zap()
	level := LevelFor(event)
	ce := l.Check(level, message(event))
	if ce == nil {
		return
	}
	ce.Write(Fields(event)...)
}

// LevelFor maps an event to a zap level: failures are errors, transitions
// and evaluations are debug noise, the rest is info.
func LevelFor(event tracker.LogEvent) zapcore.Level {
	if event.Err != nil {
		return zapcore.ErrorLevel
	}
	switch event.Kind {
	case tracker.LogTransition, tracker.LogEvaluation:
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Fields converts the populated parts of event into zap fields.
func Fields(event tracker.LogEvent) []zap.Field {
	fields := make([]zap.Field, 0, 8+len(event.Fields))
	fields = append(fields, zap.String("kind", string(event.Kind)))
	if event.Engine != "" {
		fields = append(fields, zap.String("engine", event.Engine))
	}
	if event.Expr != "" {
		fields = append(fields, zap.String("expr", event.Expr))
	}
	if event.EntityType != "" {
		fields = append(fields, zap.String("entity_type", event.EntityType))
	}
	if event.Key != "" {
		fields = append(fields, zap.String("key", event.Key))
	}
	if event.Kind == tracker.LogTransition {
		fields = append(fields,
			zap.Stringer("from", event.From),
			zap.Stringer("to", event.To),
		)
	}
	if event.Action != 0 {
		fields = append(fields, zap.Stringer("action", event.Action))
	}
	if event.Kind == tracker.LogQuery || event.Kind == tracker.LogSave || event.Kind == tracker.LogMetadata {
		fields = append(fields, zap.Int("count", event.Count))
	}
	if event.Duration > 0 {
		fields = append(fields, zap.Duration("duration", event.Duration))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func message(event tracker.LogEvent) string {
	switch event.Kind {
	case tracker.LogEvaluation:
		return "tracker: expression evaluated"
	case tracker.LogTransition:
		return "tracker: entity state changed"
	case tracker.LogQuery:
		return "tracker: query executed"
	case tracker.LogSave:
		return "tracker: changes saved"
	case tracker.LogMetadata:
		return "tracker: metadata imported"
	}
	return "tracker: event"
}
