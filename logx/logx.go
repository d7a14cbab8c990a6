// Package logx supplies the logging collaborator transport.Options
// expects, replacing the source's global colored console logger (which
// every caller serialized through as a process-wide side effect) with
// one structured, instance-scoped logger per Transport.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger adapts a logrus.Entry to transport.Logger without importing the
// transport package, so logx stays usable by any caller that only needs
// the Debugf/Infof/Warnf/Errorf shape.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger tagged with a fresh instance id, so log lines from
// concurrently running clients or servers in the same process can be
// told apart. debug raises the level to include Debugf output; otherwise
// only Info and above are emitted.
func New(name string, debug bool) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	entry := l.WithFields(logrus.Fields{
		"component":   name,
		"instance_id": uuid.NewString(),
	})
	return &Logger{entry: entry}
}

// logFileTimestamp formats the instant ts as "YYYY-MM-DD HH-mm-ss-ffff",
// ffff being a 4-digit fractional-second count.
func logFileTimestamp(ts time.Time) string {
	return fmt.Sprintf("%s-%04d", ts.Format("2006-01-02 15-04-05"), ts.Nanosecond()/100000)
}

// NewWithFile behaves like New but also tees output to a timestamped
// file under dir, matching the source's habit of writing rclog-*.txt /
// rslog-*.txt session logs, one per run.
func NewWithFile(name string, debug bool, dir, prefix string) (*Logger, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logx: create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.txt", prefix, logFileTimestamp(time.Now().UTC())))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logx: open log file %s: %w", path, err)
	}

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(io.MultiWriter(os.Stdout, f))
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	entry := l.WithFields(logrus.Fields{
		"component":   name,
		"instance_id": uuid.NewString(),
	})
	return &Logger{entry: entry}, f.Close, nil
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
