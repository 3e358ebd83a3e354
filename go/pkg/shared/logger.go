package shared

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin wrapper to allow DI/testing.
type Logger interface {
	Printf(string, ...any)
	Fatalf(string, ...any)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger returns a logrus-backed logger tagged with the service name.
func NewLogger(service string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: l.WithField("svc", service)}
}

func (l *logrusLogger) Printf(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Fatalf(format string, args ...any) {
	l.entry.Fatalf(format, args...)
}
