package log

import (
	stdlog "log"
	"strings"
)

// ToStdLogger converts a Logger into a standard library *log.Logger writing at level.
// Used for http.Server.ErrorLog and other libraries that expect a standard logger.
func ToStdLogger(logger Logger, level Level) *stdlog.Logger {
	return stdlog.New(&leveledLogAdapter{logger: logger, level: level}, "", 0)
}

// leveledLogAdapter adapts a Logger to io.Writer with level control
type leveledLogAdapter struct {
	logger Logger
	level  Level
}

// Write logs p as one message at the configured level.
func (a *leveledLogAdapter) Write(p []byte) (n int, err error) {
	msg := strings.TrimRight(string(p), "\n")

	switch a.level {
	case DebugLevel:
		a.logger.Debug(msg)
	case WarnLevel:
		a.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		// never exit from inside a library callback
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}

	return len(p), nil
}
