package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// RoleOverrideRepository - локальные дополнения ролей IdP (role_overrides).
type RoleOverrideRepository interface {
	// Upsert создаёт или заменяет дополнение роли пользователя.
	Upsert(ctx context.Context, ro *model.RoleOverride) error
	GetByUserID(ctx context.Context, userID string) (*model.RoleOverride, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context, limit, offset int) ([]*model.RoleOverride, error)
	Count(ctx context.Context) (int, error)
}

type roleOverrideRepo struct {
	db DBTX
}

// NewRoleOverrideRepository создаёт репозиторий role overrides.
func NewRoleOverrideRepository(db DBTX) RoleOverrideRepository {
	return &roleOverrideRepo{db: db}
}

var roleOverrideColumns = []string{
	"id", "user_id", "username", "additional_role", "created_by", "created_at", "updated_at",
}

func scanRoleOverride(row pgx.Row) (*model.RoleOverride, error) {
	ro := &model.RoleOverride{}
	err := row.Scan(&ro.ID, &ro.UserID, &ro.Username, &ro.AdditionalRole,
		&ro.CreatedBy, &ro.CreatedAt, &ro.UpdatedAt)
	return ro, err
}

func (r *roleOverrideRepo) Upsert(ctx context.Context, ro *model.RoleOverride) error {
	query, args, err := psql.Insert("role_overrides").
		Columns("id", "user_id", "username", "additional_role", "created_by").
		Values(ro.ID, ro.UserID, ro.Username, ro.AdditionalRole, ro.CreatedBy).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			additional_role = EXCLUDED.additional_role,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("построение upsert role override: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&ro.ID, &ro.CreatedAt, &ro.UpdatedAt); err != nil {
		return fmt.Errorf("ошибка сохранения role override %s: %w", ro.UserID, err)
	}
	return nil
}

func (r *roleOverrideRepo) GetByUserID(ctx context.Context, userID string) (*model.RoleOverride, error) {
	query, args, err := psql.Select(roleOverrideColumns...).
		From("role_overrides").
		Where("user_id = ?", userID).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение запроса role override: %w", err)
	}

	ro, err := scanRoleOverride(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения role override %s: %w", userID, err)
	}
	return ro, nil
}

func (r *roleOverrideRepo) Delete(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления role override %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *roleOverrideRepo) List(ctx context.Context, limit, offset int) ([]*model.RoleOverride, error) {
	query, args, err := psql.Select(roleOverrideColumns...).
		From("role_overrides").
		OrderBy("user_id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("построение списка role overrides: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка role overrides: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.RoleOverride, error) {
		return scanRoleOverride(row)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения role overrides: %w", err)
	}
	return result, nil
}

func (r *roleOverrideRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_overrides`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта role overrides: %w", err)
	}
	return count, nil
}
