// Package main - точка входа Unlock Gateway.
//
// Один процесс совмещает:
// - HTTP сервер: WebSocket шлюз (/ws), внутренний API (/internal/v1), health и метрики
// - Планировщик: периодический скан созревших разблокировок и повторную доставку уведомлений
// - Event bus: цепочку "предмет завершён → запланировать следующий" и прогресс студента
//
// Без DATABASE_URL используются in-memory хранилища (только для разработки).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alem-hub/unlock-gateway/config"
	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/application/eventhandler"
	"github.com/alem-hub/unlock-gateway/internal/domain/channel"
	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/pkg/circuitbreaker"
	"github.com/alem-hub/unlock-gateway/pkg/retry"

	// Infrastructure layer
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/auth"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/messaging"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/metrics"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler/jobs"

	// Interface layer
	"github.com/alem-hub/unlock-gateway/internal/interface/http"
	"github.com/alem-hub/unlock-gateway/internal/interface/http/handlers"
	"github.com/alem-hub/unlock-gateway/internal/interface/realtime"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// stores объединяет хранилища, выбранные при старте.
type stores struct {
	schedules     unlock.Repository
	notifications notification.Store
	users         identity.UserFinder
	content       unlock.ContentDirectory

	// Пингуется health check'ом. Nil для in-memory режима.
	db *postgres.Connection

	// Какие ошибки записи стоит повторять.
	isTransient func(error) bool
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ИНИЦИАЛИЗАЦИЯ ЛОГГЕРА
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Unlock Gateway",
		"version", cfg.App.Version,
		"env", string(cfg.App.Environment),
	)

	m := metrics.New()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА (PostgreSQL или in-memory)
	// ─────────────────────────────────────────────────────────────────────────
	st, err := setupStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer func() {
			log.Info("closing database connection...")
			st.db.Close()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache *redis.Cache
		scanLock   jobs.Locker
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(ctx, redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")

			st.notifications = redis.NewUnreadCountCache(st.notifications, redisCache, cfg.Redis.UnreadCountTTL, log)

			if cfg.Features.IsEnabled(config.FeatureScanLease) {
				breaker := circuitbreaker.RedisBreaker(func(name string, from, to circuitbreaker.State) {
					log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				})
				scanLock = redis.NewScanLock(redisCache, redis.WithBreaker(breaker), redis.WithLockLogger(log))
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBusConfig.OnHandled = func(eventType shared.EventType, d time.Duration, err error) {
		m.EventHandled(string(eventType), d, err)
	}
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REALTIME: РЕЕСТР СОЕДИНЕНИЙ, ДИСПЕТЧЕР, ШЛЮЗ
	// ─────────────────────────────────────────────────────────────────────────
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTLeeway)

	registry := realtime.NewRegistry(verifier, st.users, realtime.RegistryConfig{
		AuthTimeout: cfg.Gateway.AuthTimeout,
		Logger:      log,
		Metrics:     m,
	})

	dispatcher := realtime.NewDispatcher(registry, realtime.DispatcherConfig{
		Store:   st.notifications,
		Metrics: m,
		Logger:  log,
	})

	gateway := realtime.NewGateway(registry, dispatcher, channel.NewAuthorizer(cfg.Gateway.PublicChannels), realtime.GatewayConfig{
		Conn: realtime.ConnConfig{
			WriteTimeout:   cfg.Gateway.WriteTimeout,
			PongWait:       cfg.Gateway.PongWait,
			PingInterval:   cfg.Gateway.PingInterval,
			SendBuffer:     cfg.Gateway.SendBuffer,
			MaxMessageSize: cfg.Gateway.MaxMessageSize,
		},
		RequestTimeout: cfg.Gateway.RequestTimeout,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Logger:         log,
		Metrics:        m,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. КОМАНДЫ: ПЛАНИРОВАНИЕ, РАЗБЛОКИРОВКА, УСКОРЕНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	processor := command.NewUnlockProcessor(st.schedules, st.content, dispatcher, eventBus, log, command.UnlockProcessorConfig{
		MarkRetrier: retry.DatabaseRetrier(st.isTransient),
	})
	scheduleHandler := command.NewScheduleUnlockHandler(st.schedules, eventBus, log, nil)
	expediteHandler := command.NewExpediteUnlockHandler(st.schedules, processor)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПОДПИСКИ НА СОБЫТИЯ
	// ─────────────────────────────────────────────────────────────────────────
	var (
		completedHandler *eventhandler.OnSubjectCompletedHandler
		progressHandler  *eventhandler.OnProgressHandler
	)
	if cfg.Features.IsEnabled(config.FeatureUnlockChaining) {
		completedHandler = eventhandler.NewOnSubjectCompletedHandler(scheduleHandler, log, eventhandler.DefaultSubjectCompletedConfig())
	}
	if cfg.Features.IsEnabled(config.FeatureProgressEvents) {
		progressHandler = eventhandler.NewOnProgressHandler(dispatcher, log)
	}
	if err := eventhandler.Register(eventBus, completedHandler, progressHandler); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := setupScheduler(cfg, log, m, st.schedules, processor, scanLock)
	if err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, due unlocks will not be processed")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if st.db != nil {
		health.AddCheck("database", handlers.NewPingCheck(st.db))
	}
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
	}
	if cfg.Scheduler.Enabled {
		health.AddCheck("scheduler", handlers.NewRunningCheck("scheduler", sched.IsRunning))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	var apiKeys *handlers.APIKeyAuth
	if len(cfg.Auth.APIKeyHashes) > 0 {
		apiKeys = handlers.NewAPIKeyAuth(handlers.DefaultAPIKeyHeader, cfg.Auth.APIKeyHashes)
	} else {
		log.Warn("AUTH_API_KEY_HASHES is empty, internal API is not protected")
	}

	var metricsHandler nethttp.Handler
	if cfg.Observability.MetricsEnabled {
		metricsHandler = m.Handler()
	}

	serverConfig := http.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.Version = cfg.App.Version

	server := http.NewServer(serverConfig, http.Dependencies{
		Scheduler:     scheduleHandler,
		Expediter:     expediteHandler,
		Notifier:      dispatcher,
		Publisher:     eventBus,
		Connections:   registry,
		Events:        eventBus.Metrics(),
		Jobs:          sched,
		Gateway:       gateway,
		Metrics:       metricsHandler,
		HealthChecker: health,
		APIKeys:       apiKeys,
		Features:      cfg.Features,
		Logger:        log,
	})
	serverErr := server.StartAsync()

	log.Info("Unlock Gateway is running",
		"addr", cfg.HTTP.Addr(),
		"scheduler", cfg.Scheduler.Enabled,
		"redis", redisCache != nil,
		"postgres", st.db != nil,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Сначала перестаём принимать запросы, затем останавливаем фоновые задачи.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("scheduler stop failed", "error", err)
	}
	registry.Teardown()
	dispatcher.Close()

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupStores подключает PostgreSQL или, если DATABASE_URL пуст, in-memory хранилища.
func setupStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty, using in-memory stores (data is lost on restart)")
		dir := memory.NewDirectory()
		return &stores{
			schedules:     memory.NewUnlockRepository(),
			notifications: memory.NewNotificationStore(),
			users:         dir,
			content:       dir,
		}, nil
	}

	log.Info("connecting to database...")
	dbConfig := postgres.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	dbConfig.MaxConns = int32(cfg.Database.MaxConns)
	dbConfig.MinConns = int32(cfg.Database.MinConns)
	dbConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	retrier := retry.StartupRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying", "attempt", attempt, "delay", delay.String(), "error", err)
	})

	conn, err := postgres.NewConnection(ctx, dbConfig, retrier)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	return &stores{
		schedules:     postgres.NewUnlockRepository(conn),
		notifications: postgres.NewNotificationRepository(conn),
		users:         postgres.NewUserRepository(conn),
		content:       postgres.NewSubjectRepository(conn),
		db:            conn,
		isTransient:   postgres.IsTransient,
	}, nil
}

// setupScheduler регистрирует фоновые задачи. Планировщик создаётся всегда,
// чтобы задачи можно было запускать вручную через внутренний API.
func setupScheduler(
	cfg *config.Config,
	log *slog.Logger,
	m *metrics.Metrics,
	repo unlock.Repository,
	processor *command.UnlockProcessor,
	locker jobs.Locker,
) (*scheduler.Scheduler, error) {
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	schedConfig.JobTimeout = cfg.Scheduler.JobTimeout
	sched := scheduler.NewScheduler(schedConfig)

	sched.OnJobComplete(func(r scheduler.JobResult) {
		m.JobRun(r.JobName, r.Duration, r.Success)
	})
	sched.OnJobSkipped(m.JobSkipped)

	scanConfig := jobs.DefaultUnlockScanConfig()
	scanConfig.BatchSize = cfg.Scheduler.ScanBatchSize
	scanConfig.LockTTL = cfg.Scheduler.ScanLockTTL
	scanJob := jobs.NewUnlockScanJob(repo, processor, locker, log, scanConfig)
	if err := sched.Register(scanJob, scheduler.NewAlignedSchedule(cfg.Scheduler.ScanInterval)); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", scanJob.Name(), err)
	}

	if cfg.Features.IsEnabled(config.FeatureNotificationRetry) {
		retryConfig := jobs.DefaultRetryNotificationsConfig()
		retryConfig.Grace = cfg.Scheduler.RetryGrace
		retryConfig.BatchSize = cfg.Scheduler.RetryBatchSize
		retryJob := jobs.NewRetryNotificationsJob(repo, processor, log, retryConfig)
		if err := sched.Register(retryJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RetryInterval)); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", retryJob.Name(), err)
		}
	}

	return sched, nil
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)

	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
