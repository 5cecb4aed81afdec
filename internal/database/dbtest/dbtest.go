// Пакет dbtest - PostgreSQL в Docker для интеграционных тестов.
// Тесты пропускаются, если не задана переменная TEST_INTEGRATION.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/config"
)

// Config запускает контейнер PostgreSQL и возвращает конфигурацию,
// указывающую на него. Контейнер останавливается в t.Cleanup.
func Config(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("allocation_test"),
		postgres.WithUsername("allocation"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	return &config.Config{
		Storage:    config.StoragePostgres,
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     "allocation_test",
		DBUser:     "allocation",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
		DBMaxConns: 10,
	}
}
