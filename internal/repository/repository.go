// Пакет repository - слой доступа к данным.
// Интерфейсы репозиториев и их реализация на PostgreSQL (чистый SQL
// через pgx, динамические фильтры - squirrel). In-memory реализация
// тех же интерфейсов находится в пакете repository/memory.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт - запись уже существует")
)

// psql - построитель запросов с плейсхолдерами $1, $2, ...
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// DBTX - интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories - набор репозиториев, привязанных к одному соединению
// или одной транзакции.
type Repositories struct {
	Projects      ProjectRepository
	Processes     ProcessRepository
	Requests      RequestRepository
	Automation    AutomationRepository
	RoleOverrides RoleOverrideRepository
}

// Store - точка входа слоя данных.
// RunInTx выполняет fn атомарно: при ошибке все изменения откатываются.
type Store interface {
	Repos() *Repositories
	RunInTx(ctx context.Context, fn func(r *Repositories) error) error
}

// newRepositories создаёт PostgreSQL-репозитории поверх db.
func newRepositories(db DBTX) *Repositories {
	return &Repositories{
		Projects:      NewProjectRepository(db),
		Processes:     NewProcessRepository(db),
		Requests:      NewRequestRepository(db),
		Automation:    NewAutomationRepository(db),
		RoleOverrides: NewRoleOverrideRepository(db),
	}
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе - коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита - no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// PgStore - Store поверх пула PostgreSQL.
type PgStore struct {
	repos *Repositories
	tx    *TxRunner
}

// NewPgStore создаёт Store на PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		repos: newRepositories(pool),
		tx:    NewTxRunner(pool),
	}
}

// Repos возвращает репозитории вне транзакции.
func (s *PgStore) Repos() *Repositories {
	return s.repos
}

// RunInTx выполняет fn с репозиториями, привязанными к транзакции.
func (s *PgStore) RunInTx(ctx context.Context, fn func(r *Repositories) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(newRepositories(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isNotFound - запись отсутствует или идентификатор не является UUID.
func isNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" // invalid_text_representation
	}
	return false
}
