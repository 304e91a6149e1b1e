// Package zap adapts a *zap.Logger to lockcache's log.Logger.
package zap

import (
	"go.uber.org/zap"

	lclog "github.com/unkn0wn-root/lockcache/log"
)

type Logger struct{ L *zap.Logger }

var _ lclog.Logger = Logger{}

// New names the logger "lockcache" so its lines are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("lockcache")} }

func (z Logger) Debug(msg string, f lclog.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f lclog.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f lclog.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f lclog.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f lclog.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
