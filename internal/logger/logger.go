// Package logger holds the process-wide logrus logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init; it then writes text at info level to stderr.
var Log = logrus.New()

// Init configures Log. output is "stdout", "stderr" or a file path.
func Init(level, format, output string) error {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch output {
	case "", "stderr":
		l.SetOutput(os.Stderr)
	case "stdout":
		l.SetOutput(os.Stdout)
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		l.SetOutput(file)
	}

	Log = l
	return nil
}

// Discard silences Log. Tests use it to keep output quiet.
func Discard() {
	Log.SetOutput(io.Discard)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return Log.WithError(err)
}

func Info(args ...any) {
	Log.Info(args...)
}

func Infof(format string, args ...any) {
	Log.Infof(format, args...)
}

func Warn(args ...any) {
	Log.Warn(args...)
}

func Error(args ...any) {
	Log.Error(args...)
}

func Debug(args ...any) {
	Log.Debug(args...)
}

func Fatal(args ...any) {
	Log.Fatal(args...)
}
