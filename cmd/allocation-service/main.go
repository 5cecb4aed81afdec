// Точка входа Allocation Service - сервиса распределения строк файловых
// процессов между исполнителями BPO.
// Загружает конфигурацию, подключает хранилище (PostgreSQL или память),
// брокер событий и проверку загрузок, создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/handlers"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/middleware"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/validation"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/config"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/database"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository/memory"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/server"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/uploads"
)

// publisher - EventPublisher с освобождением ресурсов.
type publisher interface {
	service.EventPublisher
	Close() error
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Allocation Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.Storage),
	)

	if os.Getenv("AS_DEPHEALTH_GROUP") == "" {
		logger.Warn("AS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()

	// 3. Хранилище: PostgreSQL (миграции + pgxpool) или память
	var (
		store        repository.Store
		storeChecker handlers.ReadinessChecker
		pgDB         *sql.DB
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
		// через тот же пул и обнаруживает его исчерпание.
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewPgStore(pool)
		storeChecker = database.NewReadinessChecker(pool)
	default:
		logger.Warn("Используется хранилище в памяти, данные не сохраняются между рестартами")
		store = memory.NewStore()
		storeChecker = handlers.ReadinessFunc(func() (string, string) {
			return "ok", "хранилище в памяти"
		})
	}

	// 4. Публикация событий: RabbitMQ или лог
	var pub publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("Ошибка подключения к RabbitMQ", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pub = amqpPub
		logger.Info("События публикуются в RabbitMQ", slog.String("exchange", cfg.AMQPExchange))
	} else {
		pub = events.NewLogPublisher(logger)
		logger.Info("AS_AMQP_URL не задан, события только логируются")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("Ошибка закрытия публикатора событий", slog.String("error", err.Error()))
		}
	}()

	// 5. Проверка загруженных результатов (S3, опционально)
	var uploadChecker service.UploadChecker
	if cfg.UploadsBucket != "" {
		s3Checker, err := uploads.NewS3Checker(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка создания S3-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
		uploadChecker = s3Checker
		logger.Info("Проверка upload_ref включена", slog.String("bucket", cfg.UploadsBucket))
	}

	// 6. Services
	allocator := service.NewAllocator(store, pub, logger)
	roleOverrides := service.NewRoleOverrideService(store, logger)
	svc := handlers.Services{
		Projects:      service.NewProjectService(store, logger),
		Processes:     service.NewProcessRegistry(store, pub, logger),
		Requests:      service.NewRequestQueue(store, allocator, uploadChecker, pub, logger),
		Verification:  service.NewVerificationGate(store, pub, logger),
		Automation:    service.NewAutomationTracker(store, pub, logger),
		RoleOverrides: roleOverrides,
	}

	// 7. Readiness checkers (хранилище + Keycloak)
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(storeChecker, kcChecker)

	// 8. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, svc, logger)

	// 9. JWT middleware: группы Keycloak → роль, затем локальные overrides
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		roleOverrides,
		rbac.GroupMapping{
			AdminGroups:   cfg.RoleAdminGroups,
			ManagerGroups: cfg.RoleManagerGroups,
			WorkerGroups:  cfg.RoleWorkerGroups,
		},
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 10. Валидация запросов по OpenAPI-контракту
	validator, err := validation.New(logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. topologymetrics - мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "allocation-service",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PGConnURL:       cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Allocation Service остановлен")
}
