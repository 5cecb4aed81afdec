// dephealth.go - мониторинг зависимостей через topologymetrics SDK.
//
// Зависимости Allocation Service:
//   - PostgreSQL - SQL checker через существующий pgxpool (pool mode, critical);
//     в режиме AS_STORAGE=memory не регистрируется
//   - Keycloak - HTTP checker к JWKS endpoint (critical)
//
// Метрики app_dependency_* доступны на /metrics.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для Keycloak
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig - параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID - имя вершины графа (allocation-service)
	ServiceID string
	// Group - группа в метриках (AS_DEPHEALTH_GROUP)
	Group string
	// DB - *sql.DB из pgxpool (stdlib.OpenDBFromPool); nil - PostgreSQL не проверяется
	DB *sql.DB
	// PGConnURL - URL PostgreSQL для лейблов метрик
	PGConnURL string
	// KeycloakJWKSURL - JWKS endpoint Keycloak
	KeycloakJWKSURL string
	// CheckInterval - интервал проверок (AS_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// TLSSkipVerify - не проверять сертификат Keycloak (только dev)
	TLSSkipVerify bool
}

// DephealthService - сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис. Метрики регистрируются
// в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с отдельным registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if cfg.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
	}

	opts = append(opts, dephealth.HTTP("keycloak-jwks",
		dephealth.FromURL(cfg.KeycloakJWKSURL),
		dephealth.WithHTTPHealthPath(jwksHealthPath(cfg.KeycloakJWKSURL)),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
		dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
	))
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath - path JWKS URL: /health Keycloak доступен только
// на management-порту.
func jwksHealthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: "имя:host:port" → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
