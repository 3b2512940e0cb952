//go:build !tinygo

package sx127x

import (
	"os"

	"github.com/sirupsen/logrus"
)

func init() {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.Level = logrus.InfoLevel
	l.Out = os.Stderr
	globalLogger = NewLogrusLogger(l)
}

// logrusLogger forwards driver messages to a logrus logger, tagged with the component name.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger adapts l to the Logger interface.
// Use it with SetLogger to route driver logs through an application's logrus setup.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: l.WithField("component", "sx127x")}
}

func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l *logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }
