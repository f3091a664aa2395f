package planbase

// Logger provides structured key/value logging for store operations.
// Fields are alternating keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// loggerOrNoop never returns nil so components can log unconditionally.
func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return &NoOpLogger{}
	}
	return l
}
