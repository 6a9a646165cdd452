package svgm

import "go.uber.org/zap"

// Level is a logging severity, matching the shape of the teacher
// package's LogLevel (kgo.LogLevelDebug, LogLevelWarn, ...).
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger is the logging sink the controller and its collaborators write
// through. Implementations must be safe for concurrent use, though in
// practice only the controller goroutine and collaborator goroutines ever
// call it.
type Logger interface {
	Log(level Level, msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Log(Level, string, ...any) {}

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	S *zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger around the given *zap.Logger.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{S: z.Sugar()}
}

func (z *ZapLogger) Log(level Level, msg string, keyvals ...any) {
	switch level {
	case LevelDebug:
		z.S.Debugw(msg, keyvals...)
	case LevelInfo:
		z.S.Infow(msg, keyvals...)
	case LevelWarn:
		z.S.Warnw(msg, keyvals...)
	case LevelError:
		z.S.Errorw(msg, keyvals...)
	default:
		z.S.Infow(msg, keyvals...)
	}
}
