package errors

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// Fields returns the structured fields carried by err, if it is an AppError
func Fields(err error) logrus.Fields {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return logrus.Fields{}
	}
	fields := logrus.Fields{
		"error_code": appErr.Code,
		"retryable":  appErr.Retryable,
	}
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// Entry attaches err and its AppError context to a log entry
func Entry(logger logrus.FieldLogger, err error) *logrus.Entry {
	return logger.WithError(err).WithFields(Fields(err))
}
