package ofcore

import "github.com/sirupsen/logrus"

// LogrusLogger adapts a *logrus.Logger (or Entry) to the Logger
// interface for applications that already standardized on structured,
// field-based logging rather than the BasicLogger's flat line format.
type LogrusLogger struct {
	entry *logrus.Entry
	level LogLevel
}

// NewLogrusLogger wraps l, logging at up to level.
func NewLogrusLogger(l *logrus.Logger, level LogLevel) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l), level: level}
}

func (l *LogrusLogger) Level() LogLevel { return l.level }

func (l *LogrusLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	if level > l.level {
		return
	}
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "arg"
		}
		var val interface{} = "MISSING"
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fields[key] = val
	}
	entry := l.entry.WithFields(fields)
	switch level {
	case LogLevelError:
		entry.Error(msg)
	case LogLevelWarn:
		entry.Warn(msg)
	case LogLevelInfo:
		entry.Info(msg)
	case LogLevelDebug:
		entry.Debug(msg)
	}
}
