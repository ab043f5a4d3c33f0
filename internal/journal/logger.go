package journal

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(line(format, args))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(line(format, args))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(line(format, args))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(line(format, args))
}

func line(format string, args []interface{}) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
