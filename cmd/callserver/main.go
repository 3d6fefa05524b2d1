package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/services"
	httphandlers "greenearth/internal/handlers/http"
	"greenearth/internal/infrastructure/middleware"
	"greenearth/internal/infrastructure/monitoring"
	"greenearth/internal/infrastructure/repositories"
	signalhub "greenearth/internal/infrastructure/signal"
	"greenearth/internal/infrastructure/storage"
	webrtcinfra "greenearth/internal/infrastructure/webrtc"
	"greenearth/pkg/circuitbreaker"
	"greenearth/pkg/config"
	"greenearth/pkg/logger"
	"greenearth/pkg/retry"
	"greenearth/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	startTime := time.Now()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("error", "json").Sugar().Fatalw("Failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: tracing.DefaultConfig().ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to create repository factory", "error", err)
	}

	callRepo := repoFactory.CreateCallRepository()
	catalog, err := repoFactory.CreateRecordingCatalog(ctx)
	if err != nil {
		log.Fatalw("Failed to create recording catalog", "error", err)
	}

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		log.Fatalw("Failed to create recording store", "backend", cfg.Storage.Backend, "error", err)
	}
	log.Infow("Recording store ready", "backend", store.Backend())

	uploader := storage.NewRecordingUploader(store, catalog, uploaderConfig(cfg), log.Named("uploader"))

	ingest := webrtcinfra.NewIngest(ingestConfig(cfg), log.Named("ingest"))
	recorders := webrtcinfra.NewOggRecorderFactory(webrtcinfra.RecorderConfig{
		SampleRate:  cfg.Recording.SampleRate,
		Channels:    cfg.Recording.Channels,
		TapBuffer:   cfg.Recording.TapBuffer,
		MaxDuration: cfg.Recording.MaxDuration,
	}, log.Named("recorder"))

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	hub := signalhub.NewHub(signalhub.HubConfig{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		SendBuffer:        cfg.Signal.SendBuffer,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MaxConnections:    cfg.RateLimiting.WebSocket.MaxConcurrent,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
	}, log.Named("signal"))

	callService := services.NewCallService(
		callRepo,
		catalog,
		ingest,
		hub,
		collector,
		services.SessionDeps{
			Recorders: recorders,
			Uploader:  uploader,
			Transport: ingest,
			Clock:     services.SystemClock(),
			Logger:    log.Named("session"),
		},
		services.CallServiceOptions{
			MediaTimeout: cfg.WebRTC.MediaTimeout,
			Locker:       repoFactory.CreateCallLocker(),
		},
	)
	hub.SetCommands(callService)
	ingest.OnStream(func(ctx context.Context, callID domain.CallID, userID domain.UserID, stream *domain.MediaStream) {
		callService.PublishStream(ctx, callID, userID, stream)
	})

	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		callRepo,
	)

	health := monitoring.NewHealthChecker(2 * time.Second)
	health.AddCheck("repositories", monitoring.PingerFunc(repoFactory.HealthCheck))
	health.AddCheck("recording_store", uploader)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
	httphandlers.NewCallHandler(callService, ingest, hub).SetupRoutes(router, authService, cfg.Signal.Path)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": hub.Connections(),
			"publishers":  ingest.Publishers(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":       status.Status,
			"timestamp":    status.Timestamp,
			"dependencies": status.Checks,
			"breaker":      uploader.BreakerState().String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout is not set: it would cut hijacked event sockets.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting Green Earth call server", "address", cfg.Server.Address, "ws_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Green Earth call server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Sessions are closed before their transports so running recordings are
	// finalized and uploaded.
	if err := callService.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing call sessions", "error", err)
	}
	hub.Close()
	ingest.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("Green Earth call server stopped")
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Backend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Storage.Minio.Endpoint,
			AccessKey: cfg.Storage.Minio.AccessKey,
			SecretKey: cfg.Storage.Minio.SecretKey,
			Bucket:    cfg.Storage.Minio.Bucket,
			Region:    cfg.Storage.Minio.Region,
			UseSSL:    cfg.Storage.Minio.UseSSL,
		})
	}
	return storage.NewFileStore(cfg.Storage.File.Dir)
}

func uploaderConfig(cfg *config.Config) storage.UploaderConfig {
	uc := storage.DefaultUploaderConfig()

	uc.Retry = retry.DefaultConfig()
	uc.Retry.MaxAttempts = cfg.Storage.Retry.MaxAttempts
	uc.Retry.InitialDelay = cfg.Storage.Retry.InitialDelay
	uc.Retry.MaxDelay = cfg.Storage.Retry.MaxDelay

	uc.Breaker = circuitbreaker.DefaultConfig()
	uc.Breaker.FailureThreshold = cfg.Storage.Breaker.FailureThreshold
	uc.Breaker.Timeout = cfg.Storage.Breaker.Timeout
	return uc
}

func ingestConfig(cfg *config.Config) webrtcinfra.IngestConfig {
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	ic := webrtcinfra.IngestConfig{
		ICEServers:       iceServers,
		KeyframeInterval: cfg.WebRTC.KeyframeInterval,
	}
	ic.PortRange.Min = cfg.WebRTC.PortRange.Min
	ic.PortRange.Max = cfg.WebRTC.PortRange.Max
	return ic
}
