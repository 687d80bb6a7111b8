// dephealth.go — мониторинг зависимостей Metaform API через topologymetrics SDK.
//
// Зависимости (обе критичные):
//   - postgresql — SQL checker поверх *sql.DB, полученного из pgxpool
//   - keycloak — HTTP checker к JWKS endpoint realm
//
// Метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для Keycloak
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (metaform-api)
	ServiceID string
	// Group — имя группы в метриках (MF_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из stdlib.OpenDBFromPool
	DB *sql.DB
	// PostgresURL — URL PostgreSQL, только для лейблов
	PostgresURL string
	// JWKSURL — JWKS endpoint Keycloak
	JWKSURL string
	// CheckInterval — интервал проверок (MF_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — registry для метрик; nil — глобальный
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak",
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(keycloakHealthPath(cfg.JWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// keycloakHealthPath возвращает путь для HTTP-проверки Keycloak.
// /health у Keycloak доступен только на management-порту, поэтому проверяется
// путь самого JWKS endpoint.
func keycloakHealthPath(jwksURL string) string {
	parsed, err := url.Parse(jwksURL)
	if err != nil || parsed.Path == "" {
		return "/health"
	}
	return parsed.Path
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + Keycloak)")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}
