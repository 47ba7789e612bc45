package kafka

import (
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hugolhafner/smartcity/logger"
)

var _ kgo.Logger = (*kgoLogger)(nil)

// kgoLogger routes franz-go's internal logs into the application logger
type kgoLogger struct {
	l logger.Logger
}

func newKgoLogger(l logger.Logger) *kgoLogger {
	return &kgoLogger{l: l.With("component", "kgo")}
}

func (kl *kgoLogger) Level() kgo.LogLevel {
	return mapToKgoLevel(kl.l.Level())
}

func (kl *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	kl.l.Log(mapFromKgoLevel(level), msg, keyvals...)
}

var levelPairs = []struct {
	app logger.LogLevel
	kgo kgo.LogLevel
}{
	{logger.DebugLevel, kgo.LogLevelDebug},
	{logger.InfoLevel, kgo.LogLevelInfo},
	{logger.WarnLevel, kgo.LogLevelWarn},
	{logger.ErrorLevel, kgo.LogLevelError},
}

// unknown levels fall back to warn in both directions
func mapToKgoLevel(level logger.LogLevel) kgo.LogLevel {
	for _, p := range levelPairs {
		if p.app == level {
			return p.kgo
		}
	}
	return kgo.LogLevelWarn
}

func mapFromKgoLevel(level kgo.LogLevel) logger.LogLevel {
	for _, p := range levelPairs {
		if p.kgo == level {
			return p.app
		}
	}
	return logger.WarnLevel
}
