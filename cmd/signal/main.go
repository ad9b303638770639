package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/services"
	httphandlers "roomsignal/internal/handlers/http"
	"roomsignal/internal/infrastructure/distributed"
	"roomsignal/internal/infrastructure/mediaengine/local"
	"roomsignal/internal/infrastructure/middleware"
	"roomsignal/internal/infrastructure/monitoring"
	"roomsignal/internal/infrastructure/reliability"
	wssignal "roomsignal/internal/infrastructure/signal"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/config"
	apperrors "roomsignal/pkg/errors"
	"roomsignal/pkg/logger"
	"roomsignal/pkg/retry"
	"roomsignal/pkg/tracing"
	"roomsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", envOr("ROOMSIGNAL_CONFIG", "configs/config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to defaults so a broken file does not keep the server down.
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("failed to load config, using defaults", "path", *configPath, "error", err)
	}
	ctxLogger := logger.NewContextLogger(zapLogger)

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	engine, err := local.New(local.Config{
		Workers:     cfg.Media.Workers,
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.RTCMinPort,
		MaxPort:     cfg.Media.RTCMaxPort,
		Codecs:      cfg.Media.Codecs,
	}, log.Named("engine"))
	if err != nil {
		log.Fatalw("failed to start media engine", "error", err)
	}

	wrapper := reliability.NewEngineWrapper(engine, reliability.Options{
		Retry:          retryConfig(cfg.EngineReliability.Retry),
		BreakerEnabled: cfg.EngineReliability.CircuitBreaker.Enabled,
		CircuitBreaker: breakerConfig(cfg.EngineReliability.CircuitBreaker),
		CallTimeout:    cfg.EngineReliability.CallTimeout,
		Metrics:        collector,
	}, log.Named("engine"))

	events := services.NewRoomEventDispatcher(256, log.Named("events"))
	roomService := services.NewRoomService(wrapper, events, cfg.Rooms.DefaultMaxParticipants, log.Named("rooms"))
	peerService := services.NewPeerService(wrapper, log.Named("peers"))
	orchestrator := services.NewSessionOrchestrator(roomService, peerService, wrapper, log.Named("sessions"))
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	roomService.Subscribe("metrics", collector.HandleRoomEvent)

	health := monitoring.NewHealthChecker()
	health.AddEngineCheck(wrapper, wrapper.BreakerState)

	if cfg.Redis.Enabled {
		redisClient, err := distributed.NewRedisClient(ctx, distributed.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log.Named("redis"))
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()

		bus := distributed.NewEventBus(redisClient, cfg.Redis.Channel, utils.NewID(), log.Named("event_bus"))
		roomService.Subscribe("event-bus", bus.HandleRoomEvent)
		health.AddRedisCheck(redisClient, 2*time.Second)

		go func() {
			err := bus.Subscribe(ctx, func(event *distributed.Event) error {
				collector.RecordRemoteRoomEvent(event.Type, event.InstanceID)
				log.Debugw("remote room event",
					"type", event.Type,
					"room_id", event.RoomID,
					"instance_id", event.InstanceID,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("event bus subscription stopped", "error", err)
			}
		}()
	}

	go func() {
		for hookErr := range events.Errors() {
			log.Warnw("room event hook failed",
				"hook", hookErr.Hook,
				"type", hookErr.Event.Type,
				"room_id", hookErr.Event.RoomID,
				"error", hookErr.Err,
			)
		}
	}()

	go collector.PollWorkerStats(ctx, wrapper.WorkerStats, 10*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(ctxLogger),
		middleware.RequestLoggerMiddleware(ctxLogger),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(ctxLogger),
	)

	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("route"))
	})

	httphandlers.NewRoomHandler(roomService, authService, cfg.Rooms.MaxParticipantsLimit).SetupRoutes(router)
	httphandlers.NewMediaHandler(wrapper, wrapper.BreakerState, health, orchestrator).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	wsOpts := wssignal.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		RequireToken:      cfg.Signal.RequireToken,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
	}
	if !cfg.RateLimiting.Enabled {
		wsOpts.MessagesPerSecond = 0
	}
	wsServer := wssignal.NewWebSocketServer(orchestrator, authService, collector, wsOpts, log.Named("signal"))
	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	// WriteTimeout stays off for the websocket route; the signal server sets
	// its own per-write deadlines.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting roomsignal server",
			"address", cfg.Server.Address,
			"signal_path", cfg.Signal.Path,
			"media_workers", cfg.Media.Workers,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	stop()
	events.Close()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down media engine", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Infow("roomsignal server stopped", "active_connections", orchestrator.ActiveConnections())
}

func retryConfig(c config.RetryConfig) retry.Config {
	return retry.Config{
		Enabled:      c.Enabled,
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Jitter:       true,
		// Unknown handles never become valid on retry.
		NonRetryableErrors: []error{domain.ErrNotFound},
	}
}

func breakerConfig(c config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    c.FailureThreshold,
		SuccessThreshold:    c.SuccessThreshold,
		Timeout:             c.Timeout,
		MaxRequestsHalfOpen: c.MaxRequestsHalfOpen,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
