// Package logrus adapts a logrus entry to lockcache's log.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	lclog "github.com/unkn0wn-root/lockcache/log"
)

type Logger struct{ E *logrus.Entry }

var _ lclog.Logger = Logger{}

func New(l *logrus.Logger) Logger {
	return Logger{E: logrus.NewEntry(l).WithField("component", "lockcache")}
}

func (l Logger) Debug(msg string, f lclog.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f lclog.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f lclog.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f lclog.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f lclog.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
