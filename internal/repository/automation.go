package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// AutomationRepository - интерфейс доступа к automation_configs и
// automation_entries.
type AutomationRepository interface {
	CreateConfig(ctx context.Context, c *model.AutomationConfig) error
	GetConfig(ctx context.Context, processID string) (*model.AutomationConfig, error)
	UpdateConfig(ctx context.Context, c *model.AutomationConfig) error
	// GetEntry возвращает отчёт за дату или ErrNotFound.
	GetEntry(ctx context.Context, processID string, date time.Time) (*model.AutomationEntry, error)
	// UpsertEntry вставляет отчёт или исправляет отчёт за ту же дату.
	UpsertEntry(ctx context.Context, e *model.AutomationEntry) error
	// ListEntries возвращает отчёты по возрастанию даты.
	ListEntries(ctx context.Context, processID string) ([]*model.AutomationEntry, error)
}

type automationRepo struct {
	db DBTX
}

// NewAutomationRepository создаёт репозиторий automation-процессов.
func NewAutomationRepository(db DBTX) AutomationRepository {
	return &automationRepo{db: db}
}

func (r *automationRepo) CreateConfig(ctx context.Context, c *model.AutomationConfig) error {
	query := `
		INSERT INTO automation_configs (process_id, tool_name, last_updated_at)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, c.ProcessID, c.ToolName, c.LastUpdatedAt).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: настройки automation уже существуют", ErrConflict)
		}
		return fmt.Errorf("ошибка создания настроек automation: %w", err)
	}
	return nil
}

func (r *automationRepo) GetConfig(ctx context.Context, processID string) (*model.AutomationConfig, error) {
	query := `
		SELECT process_id, tool_name, last_updated_at, created_at, updated_at
		FROM automation_configs
		WHERE process_id = $1`

	c := &model.AutomationConfig{}
	err := r.db.QueryRow(ctx, query, processID).Scan(
		&c.ProcessID, &c.ToolName, &c.LastUpdatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения настроек automation: %w", err)
	}
	return c, nil
}

func (r *automationRepo) UpdateConfig(ctx context.Context, c *model.AutomationConfig) error {
	query := `
		UPDATE automation_configs
		SET tool_name = $2, last_updated_at = $3
		WHERE process_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, c.ProcessID, c.ToolName, c.LastUpdatedAt).Scan(&c.UpdatedAt)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления настроек automation: %w", err)
	}
	return nil
}

func (r *automationRepo) GetEntry(ctx context.Context, processID string, date time.Time) (*model.AutomationEntry, error) {
	query := `
		SELECT process_id, entry_date, completed_count, created_at, updated_at
		FROM automation_entries
		WHERE process_id = $1 AND entry_date = $2`

	e := &model.AutomationEntry{}
	err := r.db.QueryRow(ctx, query, processID, date).Scan(
		&e.ProcessID, &e.Date, &e.CompletedCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения отчёта automation: %w", err)
	}
	return e, nil
}

func (r *automationRepo) UpsertEntry(ctx context.Context, e *model.AutomationEntry) error {
	query := `
		INSERT INTO automation_entries (process_id, entry_date, completed_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (process_id, entry_date) DO UPDATE SET
			completed_count = EXCLUDED.completed_count
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, e.ProcessID, e.Date, e.CompletedCount).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения отчёта automation: %w", err)
	}
	return nil
}

func (r *automationRepo) ListEntries(ctx context.Context, processID string) ([]*model.AutomationEntry, error) {
	query := `
		SELECT process_id, entry_date, completed_count, created_at, updated_at
		FROM automation_entries
		WHERE process_id = $1
		ORDER BY entry_date`

	rows, err := r.db.Query(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отчётов automation: %w", err)
	}
	defer rows.Close()

	var result []*model.AutomationEntry
	for rows.Next() {
		e := &model.AutomationEntry{}
		if err := rows.Scan(
			&e.ProcessID, &e.Date, &e.CompletedCount, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования отчёта automation: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
