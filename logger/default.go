package logger

import "sync/atomic"

type holder struct{ Logger }

var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{NewSlog(InfoLevel, false)})
}

func current() Logger {
	return defLogger.Load().Logger
}

// SetDefault replaces the process-wide default logger used by components
// configured without one. A nil l is ignored.
func SetDefault(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l})
	}
}

func Debug(msg string, keysAndValues ...any) {
	current().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	current().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	current().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	current().Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	current().Fatal(msg, keysAndValues...)
}

// SetLevel changes the level of the process-wide default logger.
func SetLevel(level Level) {
	current().SetLevel(level)
}

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	return current()
}

// With returns a child of the default logger carrying keyValues.
func With(keyValues ...any) Logger {
	return current().With(keyValues...)
}
