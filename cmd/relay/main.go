package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncroom/internal/core/ports"
	"syncroom/internal/core/services"
	httphandlers "syncroom/internal/handlers/http"
	roombackup "syncroom/internal/infrastructure/backup"
	"syncroom/internal/infrastructure/distributed"
	"syncroom/internal/infrastructure/middleware"
	"syncroom/internal/infrastructure/monitoring"
	"syncroom/internal/infrastructure/reliability"
	"syncroom/internal/infrastructure/repositories"
	signalrelay "syncroom/internal/infrastructure/signal"
	"syncroom/pkg/backup"
	"syncroom/pkg/circuitbreaker"
	"syncroom/pkg/config"
	"syncroom/pkg/logger"
	"syncroom/pkg/retry"
	"syncroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Signaling relay and room admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config")

	var subject string
	adminTokenCmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a signed admin token for the room API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.JoinTokenTTL, cfg.Auth.AdminTokenTTL)
			token, err := auth.IssueAdminToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	adminTokenCmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	rootCmd.AddCommand(adminTokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	startTime := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "syncroom-relay",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	roomRepo := repoFactory.CreateRoomRepository()
	roomService := services.NewCachedRoomService(
		services.NewRoomService(roomRepo, cfg.Room.DefaultGrace),
		cfg.Room.CacheTTL,
	)
	defer roomService.Stop()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.JoinTokenTTL, cfg.Auth.AdminTokenTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backupDone := make(chan struct{})
	if cfg.Backup.Enabled {
		scheduler, err := startBackups(ctx, cfg, roomService, log)
		if err != nil {
			return err
		}
		go func() {
			defer close(backupDone)
			scheduler.Run(ctx)
		}()
	} else {
		close(backupDone)
	}

	notifier, events := buildNotifier(ctx, repoFactory, roomService, log)
	tracker := services.NewMembershipTracker(roomService, notifier, log)

	var metrics signalrelay.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	wsServer := signalrelay.NewWebSocketServer(tracker, authService, metrics, signalrelay.OptionsFromConfig(cfg), log)

	health := monitoring.NewHealthChecker()
	health.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	health.AddRoomStoreCheck(roomRepo, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware("/health", "/ready", "/metrics", cfg.Signal.Path),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		stats := wsServer.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": stats.Connections,
			"rooms":       stats.Rooms,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	roomHandler := httphandlers.NewRoomHandler(roomService, tracker, authService, events, log)
	roomHandler.SetupRoutes(router, middleware.AdminAuthMiddleware(authService))

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Hijacked websocket connections manage their own deadlines.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting syncroom relay", "address", cfg.Server.Address, "ws_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
		return err
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error closing websocket connections", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	cancel()
	<-backupDone
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracer", "error", err)
	}

	log.Info("syncroom relay stopped")
	return nil
}

// buildNotifier returns the membership notifier and the room event sink.
// With redis the events fan out to other relay instances, which drop their
// cached copy of the room.
func buildNotifier(ctx context.Context, repoFactory *repositories.RepositoryFactory, rooms *services.CachedRoomService, log *zap.SugaredLogger) (ports.MembershipNotifier, httphandlers.RoomEvents) {
	client := repoFactory.RedisClient()
	if client == nil {
		n := distributed.NewLogNotifier(log)
		return n, n
	}

	bus := distributed.NewEventBus(client, uuid.NewString(), log)
	go func() {
		err := bus.Subscribe(ctx, func(event *distributed.Event) error {
			switch event.Type {
			case distributed.EventRoomScheduled, distributed.EventRoomCancelled:
				rooms.Forget(event.RoomID)
			default:
				log.Debugw("remote membership event", "type", event.Type, "room_id", event.RoomID, "instance_id", event.InstanceID)
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnw("event bus subscription ended", "error", err)
		}
	}()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 2
	return reliability.NewNotifierWrapper(bus, retryCfg, circuitbreaker.DefaultConfig(), log), bus
}

// startBackups restores the room schedule from the newest snapshot and
// returns the scheduler that keeps taking new ones.
func startBackups(ctx context.Context, cfg *config.Config, rooms ports.RoomService, log *zap.SugaredLogger) (*roombackup.Scheduler, error) {
	storage, err := backup.NewFileStorage(cfg.Backup.Dir)
	if err != nil {
		return nil, err
	}
	service := backup.NewService(storage, roombackup.Kind)
	if _, err := roombackup.Restore(ctx, service, rooms, time.Now(), log); err != nil {
		log.Warnw("room restore failed", "error", err)
	}
	return roombackup.NewScheduler(service, rooms, roombackup.Config{
		Interval: cfg.Backup.Interval,
		Keep:     cfg.Backup.Keep,
	}, log), nil
}
