// Пакет config - загрузка и валидация конфигурации Allocation Service
// из переменных окружения (и опциональных .env-файлов).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые режимы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит все параметры конфигурации Allocation Service.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Режим хранилища: postgres (по умолчанию) или memory (dev/тесты)
	Storage string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальное количество соединений в пуле
	DBMaxConns int32

	// --- Keycloak / JWT ---

	// URL Keycloak (например, https://keycloak.example.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS и readiness-проверки Keycloak
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	RoleAdminGroups   []string
	RoleManagerGroups []string
	RoleWorkerGroups  []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Брокер событий (RabbitMQ, опционально) ---

	// URL AMQP; пустое значение - события только логируются
	AMQPURL string
	// Имя topic exchange для событий workflow
	AMQPExchange string

	// --- Объектное хранилище загрузок (S3, опционально) ---

	// Бакет для проверки upload_ref; пустое значение - проверка отключена
	UploadsBucket       string
	UploadsRegion       string
	UploadsEndpoint     string
	UploadsAccessKey    string
	UploadsSecretKey    string
	UploadsPathStyle    bool
	UploadsCheckTimeout time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед разбором подгружаются .env, .env.<AS_ENV> и .env.local (если есть).
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("AS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("AS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("AS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.Storage = getEnvDefault("AS_STORAGE", StoragePostgres)
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("AS_STORAGE: недопустимое значение %q, допустимые: postgres, memory", cfg.Storage)
	}

	// --- PostgreSQL (обязательно только для storage=postgres) ---

	if cfg.Storage == StoragePostgres {
		if cfg.DBHost, err = getEnvRequired("AS_DB_HOST"); err != nil {
			return nil, err
		}
		if cfg.DBName, err = getEnvRequired("AS_DB_NAME"); err != nil {
			return nil, err
		}
		if cfg.DBUser, err = getEnvRequired("AS_DB_USER"); err != nil {
			return nil, err
		}
		if cfg.DBPassword, err = getEnvRequired("AS_DB_PASSWORD"); err != nil {
			return nil, err
		}
	}

	cfg.DBPort, err = getEnvInt("AS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AS_DB_PORT: %w", err)
	}

	cfg.DBSSLMode = getEnvDefault("AS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("AS_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("AS_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 500 {
		return nil, fmt.Errorf("AS_DB_MAX_CONNS: значение %d вне допустимого диапазона 1-500", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns) //nolint:gosec // диапазон проверен выше

	// --- Keycloak / JWT ---

	cfg.KeycloakURL, err = getEnvRequired("AS_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	cfg.KeycloakRealm = getEnvDefault("AS_KEYCLOAK_REALM", "bpo")

	cfg.JWTIssuer = getEnvDefault("AS_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTJWKSURL = getEnvDefault("AS_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTLeeway, err = getEnvDuration("AS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("AS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("AS_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.CACertPath = getEnvDefault("AS_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("AS_ROLE_ADMIN_GROUPS", "bpo-admins"))
	cfg.RoleManagerGroups = parseCSV(getEnvDefault("AS_ROLE_MANAGER_GROUPS", "bpo-managers"))
	cfg.RoleWorkerGroups = parseCSV(getEnvDefault("AS_ROLE_WORKER_GROUPS", "bpo-workers"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AS_DEPHEALTH_GROUP", "bpo")

	cfg.DephealthCheckInterval, err = getEnvDuration("AS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- RabbitMQ ---

	cfg.AMQPURL = getEnvDefault("AS_AMQP_URL", "")
	cfg.AMQPExchange = getEnvDefault("AS_AMQP_EXCHANGE", "file-allocation.events")

	// --- S3 ---

	cfg.UploadsBucket = getEnvDefault("AS_UPLOADS_BUCKET", "")
	cfg.UploadsRegion = getEnvDefault("AS_UPLOADS_REGION", "us-east-1")
	cfg.UploadsEndpoint = getEnvDefault("AS_UPLOADS_ENDPOINT", "")
	cfg.UploadsAccessKey = getEnvDefault("AS_UPLOADS_ACCESS_KEY", "")
	cfg.UploadsSecretKey = getEnvDefault("AS_UPLOADS_SECRET_KEY", "")

	cfg.UploadsPathStyle, err = getEnvBool("AS_UPLOADS_PATH_STYLE", false)
	if err != nil {
		return nil, fmt.Errorf("AS_UPLOADS_PATH_STYLE: %w", err)
	}

	cfg.UploadsCheckTimeout, err = getEnvDuration("AS_UPLOADS_CHECK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_UPLOADS_CHECK_TIMEOUT: %w", err)
	}

	if (cfg.UploadsAccessKey == "") != (cfg.UploadsSecretKey == "") {
		return nil, fmt.Errorf("AS_UPLOADS_ACCESS_KEY и AS_UPLOADS_SECRET_KEY задаются только вместе")
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("AS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadEnvFiles подгружает .env-файлы в порядке приоритета.
// Уже заданные переменные окружения .env не перезаписывает,
// а .env.<AS_ENV> и .env.local перекрывают предыдущие файлы.
func loadEnvFiles() error {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("загрузка .env: %w", err)
		}
	}

	if env := os.Getenv("AS_ENV"); env != "" {
		envFile := ".env." + env
		if fileExists(envFile) {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("загрузка %s: %w", envFile, err)
			}
		}
	}

	if fileExists(".env.local") {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("загрузка .env.local: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
