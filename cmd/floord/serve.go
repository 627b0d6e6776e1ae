package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"floorlend/config"
	"floorlend/core"
	"floorlend/core/events"
	"floorlend/gateway/middleware"
	"floorlend/gateway/routes"
	"floorlend/integrations/webhooks"
	"floorlend/observability/logging"
	telemetry "floorlend/observability/otel"
	"floorlend/storage"
	"floorlend/storage/journal"
)

func serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the protocol and its HTTP API",
		RunE:  runServe,
	}
	c.Flags().String("listen", "", "override server.listen_address")
	return c
}

func loadConfig(c *cobra.Command) (*config.Config, error) {
	path, _ := c.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if listen, _ := c.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddress = listen
	}

	logger, logCloser := logging.SetupWithFile(cfg.Service, cfg.Env, logging.ParseLevel(cfg.Logging.Level), logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Service,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	params, err := cfg.Params()
	if err != nil {
		return err
	}

	var (
		emitters events.Fanout
		eventLog routes.EventLog
	)
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.Path, logger.With("component", "journal"))
		if err != nil {
			return err
		}
		defer j.Close()
		emitters, eventLog = append(emitters, j), j
	}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithEventTypes(cfg.Webhook.Events...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithQueueSize(cfg.Webhook.QueueSize),
			webhooks.WithLogger(logger.With("component", "webhook")))
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	protocol, err := core.NewProtocol(db, params, core.WithLogger(logger), core.WithEmitter(emitters))
	if err != nil {
		return err
	}
	root, err := protocol.Root()
	if err != nil {
		return err
	}
	logger.Info("protocol ready",
		"backend", cfg.Storage.Backend,
		"state_root", root.Hex(),
		"positions", len(protocol.Positions()))

	handler, err := buildHandler(cfg, protocol, eventLog, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	logger.Info("stopped")
	return nil
}

// buildHandler wires admission middleware around the API routes.
func buildHandler(cfg *config.Config, protocol routes.Protocol, eventLog routes.EventLog, logger *slog.Logger) (http.Handler, error) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  time.Duration(cfg.Auth.ClockSkewSecs) * time.Second,
		Reserved:   core.IsReservedAccount,
	}, logger)

	serviceRoutes := routes.DefaultRoutes()
	limits := make(map[string]middleware.RateLimit, len(serviceRoutes))
	for _, route := range serviceRoutes {
		limits[route.RateLimitKey] = middleware.RateLimit{
			RatePerSecond: cfg.Server.RateLimitPerSecond,
			Burst:         cfg.Server.RateLimitBurst,
		}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Service,
		LogRequests: true,
		Enabled:     cfg.Server.EnableMetrics || cfg.Telemetry.Traces,
	}, logger)

	router, err := routes.New(routes.Config{
		Protocol:      protocol,
		Events:        eventLog,
		Logger:        logger,
		Routes:        serviceRoutes,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	if cfg.Telemetry.Traces {
		return otelhttp.NewHandler(router, cfg.Service), nil
	}
	return router, nil
}
