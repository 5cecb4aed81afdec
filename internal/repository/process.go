package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// ProcessRepository - интерфейс доступа к file_processes и связанным
// таблицам (process_events, free_row_ranges).
type ProcessRepository interface {
	// Create создаёт процесс.
	Create(ctx context.Context, p *model.FileProcess) error
	// GetByID возвращает неудалённый процесс.
	GetByID(ctx context.Context, id string) (*model.FileProcess, error)
	// GetForUpdate возвращает процесс и блокирует строку до конца транзакции.
	// Все изменения счётчиков процесса проходят через эту блокировку.
	GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error)
	// List возвращает процессы с фильтрацией (новые первыми).
	List(ctx context.Context, filters model.ProcessFilters, limit, offset int) ([]*model.FileProcess, error)
	// Count возвращает количество процессов с фильтрацией.
	Count(ctx context.Context, filters model.ProcessFilters) (int, error)
	// Update сохраняет все изменяемые поля процесса.
	Update(ctx context.Context, p *model.FileProcess) error
	// AddEvent добавляет запись в журнал статусов процесса.
	AddEvent(ctx context.Context, e *model.ProcessEvent) error
	// ListEvents возвращает журнал статусов процесса по времени.
	ListEvents(ctx context.Context, processID string) ([]*model.ProcessEvent, error)
	// FreeRanges возвращает освобождённые диапазоны процесса по возрастанию.
	FreeRanges(ctx context.Context, processID string) ([]model.RowRange, error)
	// ReplaceFreeRanges заменяет список освобождённых диапазонов.
	ReplaceFreeRanges(ctx context.Context, processID string, ranges []model.RowRange) error
}

type processRepo struct {
	db DBTX
}

// NewProcessRepository создаёт репозиторий процессов.
func NewProcessRepository(db DBTX) ProcessRepository {
	return &processRepo{db: db}
}

var processColumns = []string{
	"id", "name", "project_id", "type", "status",
	"total_rows", "header_rows", "available_rows", "allocated_rows", "processed_rows",
	"high_water_row", "file_ref", "daily_target",
	"created_by", "created_at", "updated_at", "deleted_at",
}

func scanProcess(row pgx.Row) (*model.FileProcess, error) {
	p := &model.FileProcess{}
	err := row.Scan(
		&p.ID, &p.Name, &p.ProjectID, &p.Type, &p.Status,
		&p.TotalRows, &p.HeaderRows, &p.AvailableRows, &p.AllocatedRows, &p.ProcessedRows,
		&p.HighWaterRow, &p.FileRef, &p.DailyTarget,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	return p, err
}

func (r *processRepo) Create(ctx context.Context, p *model.FileProcess) error {
	query := `
		INSERT INTO file_processes (id, name, project_id, type, status,
			total_rows, header_rows, available_rows, allocated_rows, processed_rows,
			high_water_row, file_ref, daily_target, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.Name, p.ProjectID, string(p.Type), string(p.Status),
		p.TotalRows, p.HeaderRows, p.AvailableRows, p.AllocatedRows, p.ProcessedRows,
		p.HighWaterRow, p.FileRef, p.DailyTarget, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: процесс с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания процесса: %w", err)
	}
	return nil
}

func (r *processRepo) get(ctx context.Context, id string, forUpdate bool) (*model.FileProcess, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM file_processes
		WHERE id = $1 AND deleted_at IS NULL`, strings.Join(processColumns, ", "))
	if forUpdate {
		query += " FOR UPDATE"
	}

	p, err := scanProcess(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения процесса: %w", err)
	}
	return p, nil
}

func (r *processRepo) GetByID(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.get(ctx, id, false)
}

func (r *processRepo) GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.get(ctx, id, true)
}

// processWhere строит условие фильтрации процессов.
func processWhere(filters model.ProcessFilters) squirrel.And {
	cond := squirrel.And{squirrel.Eq{"deleted_at": nil}}
	if filters.ProjectID != nil {
		cond = append(cond, squirrel.Eq{"project_id": *filters.ProjectID})
	}
	if filters.Status != nil {
		cond = append(cond, squirrel.Eq{"status": string(*filters.Status)})
	}
	if filters.Type != nil {
		cond = append(cond, squirrel.Eq{"type": string(*filters.Type)})
	}
	return cond
}

func (r *processRepo) List(ctx context.Context, filters model.ProcessFilters, limit, offset int) ([]*model.FileProcess, error) {
	query, args, err := psql.Select(processColumns...).
		From("file_processes").
		Where(processWhere(filters)).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).  //nolint:gosec // limit проверен в сервисе
		Offset(uint64(offset)). //nolint:gosec // offset проверен в сервисе
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса процессов: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка получения списка процессов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования процесса: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func (r *processRepo) Count(ctx context.Context, filters model.ProcessFilters) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("file_processes").
		Where(processWhere(filters)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса подсчёта процессов: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка подсчёта процессов: %w", err)
	}
	return count, nil
}

func (r *processRepo) Update(ctx context.Context, p *model.FileProcess) error {
	query := `
		UPDATE file_processes
		SET name = $2, status = $3,
			available_rows = $4, allocated_rows = $5, processed_rows = $6,
			high_water_row = $7, file_ref = $8, daily_target = $9, deleted_at = $10
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.Name, string(p.Status),
		p.AvailableRows, p.AllocatedRows, p.ProcessedRows,
		p.HighWaterRow, p.FileRef, p.DailyTarget, p.DeletedAt,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления процесса: %w", err)
	}
	return nil
}

func (r *processRepo) AddEvent(ctx context.Context, e *model.ProcessEvent) error {
	query := `
		INSERT INTO process_events (id, process_id, from_status, to_status, actor, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.ProcessID, string(e.FromStatus), string(e.ToStatus), e.Actor, e.Reason,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события процесса: %w", err)
	}
	return nil
}

func (r *processRepo) ListEvents(ctx context.Context, processID string) ([]*model.ProcessEvent, error) {
	query := `
		SELECT id, process_id, from_status, to_status, actor, reason, created_at
		FROM process_events
		WHERE process_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий процесса: %w", err)
	}
	defer rows.Close()

	var result []*model.ProcessEvent
	for rows.Next() {
		e := &model.ProcessEvent{}
		if err := rows.Scan(
			&e.ID, &e.ProcessID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события процесса: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *processRepo) FreeRanges(ctx context.Context, processID string) ([]model.RowRange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_row, end_row
		FROM free_row_ranges
		WHERE process_id = $1
		ORDER BY start_row`, processID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свободных диапазонов: %w", err)
	}
	defer rows.Close()

	var result []model.RowRange
	for rows.Next() {
		var rr model.RowRange
		if err := rows.Scan(&rr.Start, &rr.End); err != nil {
			return nil, fmt.Errorf("ошибка сканирования диапазона: %w", err)
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

func (r *processRepo) ReplaceFreeRanges(ctx context.Context, processID string, ranges []model.RowRange) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM free_row_ranges WHERE process_id = $1`, processID); err != nil {
		return fmt.Errorf("ошибка очистки свободных диапазонов: %w", err)
	}
	if len(ranges) == 0 {
		return nil
	}

	insert := psql.Insert("free_row_ranges").Columns("process_id", "start_row", "end_row")
	for _, rr := range ranges {
		insert = insert.Values(processID, rr.Start, rr.End)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса диапазонов: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка сохранения свободных диапазонов: %w", err)
	}
	return nil
}
