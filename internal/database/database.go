// Пакет database - пул PostgreSQL (pgxpool), встроенные миграции
// (golang-migrate) и readiness-проверка для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	applicationName = "allocation-service"
	// connectAttempts - попытки ping при старте
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Connect создаёт пул и дожидается доступности PostgreSQL.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pingWithRetry(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		logger.Warn("PostgreSQL недоступен, повтор",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// migrateURL собирает URL для драйвера pgx5 golang-migrate.
// Учётные данные экранируются: пароль может содержать '@' и '/'.
func migrateURL(cfg *config.Config) string {
	u := url.URL{
		Scheme: "pgx5",
		User:   url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:   fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:   "/" + cfg.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.DBSSLMode)
	q.Set("x-migrations-table", "schema_migrations")
	u.RawQuery = q.Encode()
	return u.String()
}

// Migrate применяет встроенные SQL-миграции.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("Схема БД актуальна")
	case err != nil:
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		return fmt.Errorf("схема БД в состоянии dirty (версия %d), нужна ручная правка", version)
	}
	logger.Info("Миграции применены", slog.Uint64("version", uint64(version)))
	return nil
}

// ReadinessChecker - readiness PostgreSQL: ping и заполненность пула.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady возвращает "fail" без ping и "degraded" при занятом пуле.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	stat := c.pool.Stat()
	return poolStatus(stat.AcquiredConns(), stat.MaxConns())
}

func poolStatus(acquired, maxConns int32) (string, string) {
	msg := fmt.Sprintf("занято %d из %d соединений", acquired, maxConns)
	if maxConns > 0 && acquired >= maxConns {
		return "degraded", "пул исчерпан: " + msg
	}
	return "ok", msg
}
