package coordinator

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	_ cron.Schedule = interval{}
	_ cron.Logger   = cronLogger{}
)

// interval is a cron.Schedule firing at a fixed delay. Unlike cron.Every it
// keeps sub-second precision.
type interval struct {
	delay time.Duration
}

func (i interval) Next(t time.Time) time.Time {
	return t.Add(i.delay)
}

// cronLogger adapts logrus to the cron.Logger interface.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Trace("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithField("error", err).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			f[key] = keysAndValues[i+1]
		}
	}
	return f
}
