package utils

import (
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

// GetTraceID returns the sentry trace ID of the request or an empty string when the request is
// not traced.
func GetTraceID(c echo.Context) string {
	if span := sentry.TransactionFromContext(c.Request().Context()); span != nil {
		return span.TraceID.String()
	}
	return ""
}
