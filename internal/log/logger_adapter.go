package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/valerka1292/tankidecode/internal/config"
)

const (
	defaultPattern = "%time [%level] %field: %msg\n"
	defaultTime    = "2006-01-02 15:04:05.000"
)

type logrusAdapter struct {
	entry *logrus.Entry
}

// Init replaces the process logger according to cfg. Output always goes to
// stderr so that dumps written to stdout stay machine readable.
func Init(cfg config.LogConfig) error {
	l, err := newLogrus(cfg, os.Stderr)
	if err != nil {
		return err
	}
	setLogger(&logrusAdapter{entry: logrus.NewEntry(l)})
	return nil
}

func newLogrus(cfg config.LogConfig, stderr io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	l := logrus.New()
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: orDefault(cfg.Time, defaultTime)})
	case "text", "":
		l.SetFormatter(&formatter{
			pattern: orDefault(cfg.Pattern, defaultPattern),
			time:    orDefault(cfg.Time, defaultTime),
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	out := NewMultiWriter().Add(stderr)
	if cfg.Outputs.File.Enabled {
		if _, err := out.AddFileAppender(cfg.Outputs.File); err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
	}
	l.SetOutput(out)
	return l, nil
}

func newDefault() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&formatter{pattern: defaultPattern, time: defaultTime})
	l.SetOutput(os.Stderr)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
