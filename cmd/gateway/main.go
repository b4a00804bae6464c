package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/db"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/login"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/oidc"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/sessions"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/tokens"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/google/uuid"
	echoprometheus "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func main() {
	// Logging setup
	slog.SetDefault(jsonLogger)
	// Load configuration
	ch := config.NewConfigHandler()
	gwConfig, err := ch.Config()
	if err != nil {
		slog.Error("loading the configuration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("loaded config", "config", gwConfig)
	// Set log level to "debug" if activated
	if gwConfig.DebugMode {
		logLevel.Set(slog.LevelDebug)
	}
	// Only the debug mode can change without a restart
	ch.HandleChanges(func(newConfig config.Config, err error) {
		if err != nil {
			slog.Error("the changed config is not valid, keeping the current one", "error", err)
			return
		}
		if newConfig.DebugMode {
			logLevel.Set(slog.LevelDebug)
		} else {
			logLevel.Set(slog.LevelInfo)
		}
	})
	ch.Watch()
	// Setup
	e := echo.New()
	e.Pre(
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}),
		middleware.RemoveTrailingSlash(),
	)
	e.Use(middleware.Recover())
	// The banner and the port do not respect the logger formatting we set below so we remove them
	// the port will be logged further down when the server starts.
	e.HideBanner = true
	e.HidePort = true
	// Initialize the db adapter
	dbAdapter, err := db.NewRedisAdapter(
		db.WithRedisConfig(gwConfig.Redis),
		db.WithTokenEncryptionConfig(gwConfig.Login.TokenEncryption),
	)
	if err != nil {
		slog.Error("DB adapter initialization failed", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()
	if gwConfig.Login.TokenEncryption.Enabled {
		slog.Info("redis encryption is enabled")
	}
	// Health check
	e.GET("/health", func(c echo.Context) error {
		if err := dbAdapter.Ping(c.Request().Context()); err != nil {
			slog.Error("health check failed", "error", err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	// Version endpoint
	buildInfo, ok := debug.ReadBuildInfo()
	version := ""
	if ok && buildInfo != nil {
		version = buildInfo.Main.Version
	}
	e.GET("/version", func(c echo.Context) error {
		return c.String(http.StatusOK, version)
	})
	// Create session store
	sessionStore, err := sessions.NewSessionStore(
		sessions.WithSessionRepository(dbAdapter),
		sessions.WithConfig(gwConfig.Sessions),
	)
	if err != nil {
		slog.Error("failed to initialize sessions", "error", err)
		os.Exit(1)
	}
	// Initialize the identity provider client, this runs the OIDC discovery
	provider, err := oidc.NewClient(oidc.WithProviderConfig(gwConfig.Login.Provider))
	if err != nil {
		slog.Error("OIDC client initialization failed", "error", err)
		os.Exit(1)
	}
	// Initialize the token manager
	tokenManager, err := tokens.NewManager(
		tokens.WithProviderConfig(gwConfig.Login.Provider),
		tokens.WithRefreshConfig(gwConfig.Login.Refresh),
	)
	if err != nil {
		slog.Error("token manager initialization failed", "error", err)
		os.Exit(1)
	}
	// Initialize login server
	loginServer, err := login.NewLoginServer(
		login.WithConfig(gwConfig.Login),
		login.WithProvider(provider),
		login.WithTokenManager(tokenManager),
		login.WithSessionStore(sessionStore),
		login.WithTokenRepository(dbAdapter),
	)
	if err != nil {
		slog.Error("login handlers initialization failed", "error", err)
		os.Exit(1)
	}
	loginServer.RegisterHandlers(e, commonMiddlewares...)
	// Rate limiting
	if gwConfig.Server.RateLimits.Enabled {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(gwConfig.Server.RateLimits.Rate),
					Burst:     gwConfig.Server.RateLimits.Burst,
					ExpiresIn: 3 * time.Minute,
				}),
		),
		)
	}
	// CORS
	if len(gwConfig.Server.AllowOrigin) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     gwConfig.Server.AllowOrigin,
			AllowCredentials: true,
		}))
	}
	// Sentry
	if gwConfig.Monitoring.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              string(gwConfig.Monitoring.Sentry.Dsn),
			TracesSampleRate: gwConfig.Monitoring.Sentry.SampleRate,
			EnableTracing:    gwConfig.Monitoring.Sentry.SampleRate > 0,
			Environment:      gwConfig.Monitoring.Sentry.Environment,
		})
		if err != nil {
			slog.Error("sentry initialization failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}), sentryTracing)
	}
	// Prometheus
	var metricsServer *echo.Echo
	if gwConfig.Monitoring.Prometheus.Enabled {
		requestMetrics := echoprometheus.NewPrometheus("gateway", nil)
		e.Use(requestMetrics.HandlerFunc)
		metricsServer = echo.New()
		metricsServer.HideBanner = true
		metricsServer.HidePort = true
		requestMetrics.SetMetricsPath(metricsServer)
		go func() {
			err := metricsServer.Start(fmt.Sprintf(":%d", gwConfig.Monitoring.Prometheus.Port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("prometheus server failed to start", "error", err)
				os.Exit(1)
			}
		}()
	}
	// Start server
	address := fmt.Sprintf("%s:%d", gwConfig.Server.Host, gwConfig.Server.Port)
	slog.Info("starting the server on address " + address)
	go func() {
		err := e.Start(address)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("starting the server failed", "error", err)
			os.Exit(1)
		}
	}()
	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	// Use a buffered channel to avoid missing signals as recommended for signal.Notify
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("received signal to shut down the server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("shutting down the metrics server gracefully failed", "error", err)
		}
	}
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("shutting down the server gracefully failed", "error", err)
		os.Exit(1)
	}
}
