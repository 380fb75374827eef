package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger.
var Log = logrus.New()

// Init configures Log for the given level and environment. Production and
// staging log JSON; everything else logs colored text.
func Init(level, env string) {
	Log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		Log.Warnf("invalid log level %q, defaulting to info: %v", level, err)
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	switch strings.ToLower(env) {
	case "production", "prod", "staging":
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	Log.Debugf("logger initialized, level=%s env=%s", lvl, env)
}

// SetOutput redirects Log, e.g. to a file while the kiosk owns the terminal.
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
