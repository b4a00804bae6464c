package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/utils"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var logLevel *slog.LevelVar = new(slog.LevelVar)
var jsonLogger *slog.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
var requestLogger echo.MiddlewareFunc = middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
	LogStatus:    true,
	LogURI:       true,
	LogError:     true,
	LogRequestID: true,
	LogRoutePath: true, // logs the handler path in the server that matched the request path
	LogMethod:    true,
	LogUserAgent: true,
	HandleError:  true, // forwards error to the global error handler, so it can decide appropriate status code
	LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
		attrs := []slog.Attr{
			slog.String("uri", v.URI),
			slog.Int("status", v.Status),
			slog.String("requestID", v.RequestID),
			slog.String("method", v.Method),
			slog.String("handler", v.RoutePath),
			slog.String("userAgent", v.UserAgent),
		}
		if traceID := utils.GetTraceID(c); traceID != "" {
			attrs = append(attrs, slog.String("traceID", traceID))
		}
		if v.Error == nil {
			jsonLogger.LogAttrs(context.Background(), slog.LevelInfo, "REQUEST", attrs...)
		} else {
			attrs = append(attrs, slog.String("error", v.Error.Error()))
			jsonLogger.LogAttrs(context.Background(), slog.LevelError, "REQUEST_ERROR", attrs...)
		}
		return nil
	},
})
var commonMiddlewares []echo.MiddlewareFunc = []echo.MiddlewareFunc{requestLogger}

// sentryTracing starts a sentry transaction for every request so that logs carry the trace ID.
func sentryTracing(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		span := sentry.StartTransaction(
			r.Context(),
			r.Method+" "+c.Path(),
			sentry.ContinueFromRequest(r),
			sentry.WithTransactionSource(sentry.SourceRoute),
		)
		defer span.Finish()
		c.SetRequest(r.WithContext(span.Context()))
		return next(c)
	}
}
