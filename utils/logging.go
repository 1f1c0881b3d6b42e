package utils

import (
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// LogError writes err to logrus and reports it to sentry with the context
// attached as tags and extras.
func LogError(errorType string, err error, context map[string]interface{}) {
	fields := logrus.Fields{"error_type": errorType}
	for k, v := range context {
		fields[k] = v
	}
	logrus.WithFields(fields).WithError(err).Error(errorType)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		for k, v := range context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// LogEvent writes an informational event and leaves a sentry breadcrumb.
func LogEvent(eventType string, data map[string]interface{}) {
	logrus.WithFields(logrus.Fields(data)).Info(eventType)

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: eventType,
		Data:     data,
		Level:    sentry.LevelInfo,
	})
}
