package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// RequestRepository - интерфейс доступа к file_requests и аудиту переходов.
type RequestRepository interface {
	Create(ctx context.Context, r *model.FileRequest) error
	GetByID(ctx context.Context, id string) (*model.FileRequest, error)
	// GetForUpdate блокирует строку заявки до конца транзакции.
	// Порядок блокировок: сначала процесс, затем заявка.
	GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error)
	List(ctx context.Context, filters model.RequestFilters, limit, offset int) ([]*model.FileRequest, error)
	Count(ctx context.Context, filters model.RequestFilters) (int, error)
	Update(ctx context.Context, r *model.FileRequest) error
	// CountOpen возвращает количество незавершённых заявок процесса.
	CountOpen(ctx context.Context, processID string) (int, error)
	// HeldRanges возвращает диапазоны, удерживаемые заявками процесса.
	HeldRanges(ctx context.Context, processID string) ([]model.RowRange, error)
	AddEvent(ctx context.Context, e *model.RequestEvent) error
	// ListEvents возвращает аудит переходов заявки по времени.
	ListEvents(ctx context.Context, requestID string) ([]*model.RequestEvent, error)
}

type requestRepo struct {
	db DBTX
}

// NewRequestRepository создаёт репозиторий заявок.
func NewRequestRepository(db DBTX) RequestRepository {
	return &requestRepo{db: db}
}

var requestColumns = []string{
	"id", "process_id", "user_id", "username", "requested_count", "status",
	"start_row", "end_row", "assigned_count", "assigned_by", "assigned_at",
	"started_at", "completed_at", "upload_ref", "submitted_at",
	"reviewed_by", "reviewed_at", "review_notes", "rework_allowed", "range_released",
	"created_at", "updated_at",
}

func scanRequest(row pgx.Row) (*model.FileRequest, error) {
	r := &model.FileRequest{}
	err := row.Scan(
		&r.ID, &r.ProcessID, &r.UserID, &r.Username, &r.RequestedCount, &r.Status,
		&r.StartRow, &r.EndRow, &r.AssignedCount, &r.AssignedBy, &r.AssignedAt,
		&r.StartedAt, &r.CompletedAt, &r.UploadRef, &r.SubmittedAt,
		&r.ReviewedBy, &r.ReviewedAt, &r.ReviewNotes, &r.ReworkAllowed, &r.RangeReleased,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *requestRepo) Create(ctx context.Context, fr *model.FileRequest) error {
	query := `
		INSERT INTO file_requests (id, process_id, user_id, username, requested_count, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		fr.ID, fr.ProcessID, fr.UserID, fr.Username, fr.RequestedCount, string(fr.Status),
	).Scan(&fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *requestRepo) get(ctx context.Context, id string, forUpdate bool) (*model.FileRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_requests WHERE id = $1`,
		strings.Join(requestColumns, ", "))
	if forUpdate {
		query += " FOR UPDATE"
	}

	fr, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return fr, nil
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.get(ctx, id, false)
}

func (r *requestRepo) GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.get(ctx, id, true)
}

func requestWhere(filters model.RequestFilters) squirrel.Eq {
	cond := squirrel.Eq{}
	if filters.ProcessID != nil {
		cond["process_id"] = *filters.ProcessID
	}
	if filters.UserID != nil {
		cond["user_id"] = *filters.UserID
	}
	if filters.Status != nil {
		cond["status"] = string(*filters.Status)
	}
	return cond
}

func (r *requestRepo) List(ctx context.Context, filters model.RequestFilters, limit, offset int) ([]*model.FileRequest, error) {
	query, args, err := psql.Select(requestColumns...).
		From("file_requests").
		Where(requestWhere(filters)).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).  //nolint:gosec // limit проверен в сервисе
		Offset(uint64(offset)). //nolint:gosec // offset проверен в сервисе
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса заявок: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявок: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRequest
	for rows.Next() {
		fr, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, fr)
	}
	if err := rows.Err(); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func (r *requestRepo) Count(ctx context.Context, filters model.RequestFilters) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("file_requests").
		Where(requestWhere(filters)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса подсчёта заявок: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}
	return count, nil
}

func (r *requestRepo) Update(ctx context.Context, fr *model.FileRequest) error {
	query := `
		UPDATE file_requests
		SET user_id = $2, username = $3, status = $4,
			start_row = $5, end_row = $6, assigned_count = $7,
			assigned_by = $8, assigned_at = $9, started_at = $10, completed_at = $11,
			upload_ref = $12, submitted_at = $13,
			reviewed_by = $14, reviewed_at = $15, review_notes = $16,
			rework_allowed = $17, range_released = $18
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		fr.ID, fr.UserID, fr.Username, string(fr.Status),
		fr.StartRow, fr.EndRow, fr.AssignedCount,
		fr.AssignedBy, fr.AssignedAt, fr.StartedAt, fr.CompletedAt,
		fr.UploadRef, fr.SubmittedAt,
		fr.ReviewedBy, fr.ReviewedAt, fr.ReviewNotes,
		fr.ReworkAllowed, fr.RangeReleased,
	).Scan(&fr.UpdatedAt)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	return nil
}

func (r *requestRepo) CountOpen(ctx context.Context, processID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM file_requests
		WHERE process_id = $1
		  AND (status IN ('pending', 'assigned', 'in_progress', 'completed', 'pending_verification')
		       OR (status = 'rejected' AND rework_allowed AND NOT range_released))`

	var count int
	if err := r.db.QueryRow(ctx, query, processID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта открытых заявок: %w", err)
	}
	return count, nil
}

func (r *requestRepo) HeldRanges(ctx context.Context, processID string) ([]model.RowRange, error) {
	query := `
		SELECT start_row, end_row
		FROM file_requests
		WHERE process_id = $1
		  AND start_row IS NOT NULL
		  AND NOT range_released
		  AND status IN ('assigned', 'in_progress', 'completed', 'pending_verification', 'verified', 'rejected')
		ORDER BY start_row`

	rows, err := r.db.Query(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выданных диапазонов: %w", err)
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

func (r *requestRepo) AddEvent(ctx context.Context, e *model.RequestEvent) error {
	query := `
		INSERT INTO file_request_events (id, request_id, process_id, from_status, to_status, actor, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	var from *string
	if e.FromStatus != nil {
		s := string(*e.FromStatus)
		from = &s
	}

	err := r.db.QueryRow(ctx, query,
		e.ID, e.RequestID, e.ProcessID, from, string(e.ToStatus), e.Actor, e.Notes,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события заявки: %w", err)
	}
	return nil
}

func (r *requestRepo) ListEvents(ctx context.Context, requestID string) ([]*model.RequestEvent, error) {
	query := `
		SELECT id, request_id, process_id, from_status, to_status, actor, notes, created_at
		FROM file_request_events
		WHERE request_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории заявки: %w", err)
	}
	defer rows.Close()

	var result []*model.RequestEvent
	for rows.Next() {
		e := &model.RequestEvent{}
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.ProcessID, &e.FromStatus, &e.ToStatus,
			&e.Actor, &e.Notes, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события заявки: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
