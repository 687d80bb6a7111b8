// Точка входа Metaform API — сервис ответов на формы.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// инициализирует клиент Keycloak и неявные политики resource server,
// создаёт сервисный слой и API handlers, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Metatavu/metaform-api-sub001/internal/api/handlers"
	"github.com/Metatavu/metaform-api-sub001/internal/api/middleware"
	"github.com/Metatavu/metaform-api-sub001/internal/api/openapi"
	"github.com/Metatavu/metaform-api-sub001/internal/capability"
	"github.com/Metatavu/metaform-api-sub001/internal/config"
	"github.com/Metatavu/metaform-api-sub001/internal/database"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/rbac"
	"github.com/Metatavu/metaform-api-sub001/internal/keycloak"
	"github.com/Metatavu/metaform-api-sub001/internal/repository"
	"github.com/Metatavu/metaform-api-sub001/internal/server"
	"github.com/Metatavu/metaform-api-sub001/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Metaform API запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("MF_DEPHEALTH_GROUP") == "" {
		logger.Warn("MF_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := database.OpenSQLDB(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с CA Keycloak (Admin API, UMA и JWKS)
	httpClient, err := keycloak.NewHTTPClient(cfg.CACertPath, 30*time.Second)
	if err != nil {
		logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Keycloak клиент (Admin API + Authorization Services)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		cfg.KeycloakResourceClientID,
		httpClient,
		logger,
	)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
		slog.String("resource_client", cfg.KeycloakResourceClientID),
	)

	// 7. Хранилище и сервисы
	store := repository.NewStore(pool)

	metaformSvc := service.NewMetaformService(store.Metaforms(), cfg.MetaformCacheSize, cfg.MetaformCacheTTL, logger)
	permissionSvc := service.NewPermissionService(
		kcClient,
		rbac.PolicyNames{
			Admin: cfg.AdminPolicyName,
			Owner: cfg.OwnerPolicyName,
			User:  cfg.UserPolicyName,
		},
		cfg.RoleAdminRoles, cfg.RoleUserRoles,
		logger,
	)
	replySvc := service.NewReplyService(store, metaformSvc, permissionSvc, capability.New(), cfg.FilterBestEffort, logger)
	attachmentSvc := service.NewAttachmentService(store.Attachments(), cfg.MaxAttachmentSize, logger)

	// 8. Неявные политики resource server (scopes, admin/user)
	logger.Info("Проверка политик resource server...")
	if err := permissionSvc.EnsureDefaults(ctx); err != nil {
		logger.Error("Ошибка инициализации политик Keycloak", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Health + API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcClient)
	apiHandler := handlers.NewAPIHandler(healthHandler, metaformSvc, replySvc, attachmentSvc, logger)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		httpClient,
		cfg.JWTIssuer,
		cfg.RoleAdminRoles, cfg.RoleUserRoles,
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

	// 11. Проверка запросов по OpenAPI
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI документа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI validator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "metaform-api",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Metaform API остановлен")
}
