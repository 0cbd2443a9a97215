// Package log implements simple logging functionality for the recordseal
// library. By default logging is disabled and the underlying logger is a
// no-op implementation. Use the SetLogger helper function to enable logging
// with the logger of your choice.
package log

var logger Interface = noopLogger{}

// Interface is the minimal logger the library logs through. It is satisfied
// directly by logrus and most structured loggers.
type Interface interface {
	// Debugf logs v using a format string at debug level.
	Debugf(format string, v ...interface{})
	// Warnf logs v using a format string at warning level. Used for one-time
	// safety-relevant events such as salt creation and mode fallbacks.
	Warnf(format string, v ...interface{})
}

// SetLogger sets the logger used by the recordseal library.
func SetLogger(l Interface) {
	logger = l
}

// Debugf writes to the log using the configured logger.
func Debugf(format string, v ...interface{}) {
	if logger != nil {
		logger.Debugf(format, v...)
	}
}

// Warnf writes to the log using the configured logger.
func Warnf(format string, v ...interface{}) {
	if logger != nil {
		logger.Warnf(format, v...)
	}
}

// Enabled returns true if a logger has been supplied via SetLogger.
func Enabled() bool {
	switch logger.(type) {
	case noopLogger, nil:
		return false
	default:
		return true
	}
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, v ...interface{}) {
	// do nothing
}

func (noopLogger) Warnf(format string, v ...interface{}) {
	// do nothing
}
