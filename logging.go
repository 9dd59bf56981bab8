package tracker

import "time"

// LogKind classifies a LogEvent.
type LogKind string

const (
	LogEvaluation LogKind = "evaluation"
	LogTransition LogKind = "transition"
	LogQuery      LogKind = "query"
	LogSave       LogKind = "save"
	LogMetadata   LogKind = "metadata"
)

// LogEvent describes something the engine did that is worth recording.
type LogEvent struct {
	Kind       LogKind
	Engine     string
	Expr       string
	EntityType string
	Key        string
	From       EntityState
	To         EntityState
	Action     EntityAction
	Count      int
	Duration   time.Duration
	Err        error
	Fields     map[string]any
}

// Logger records engine events.
type Logger interface {
	Log(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// Log implements Logger.
func (f LoggerFunc) Log(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) Log(LogEvent) {}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
