package repository

import (
	"context"
	"fmt"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// ProjectRepository - интерфейс CRUD для таблицы projects.
type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	GetByName(ctx context.Context, name string) (*model.Project, error)
	List(ctx context.Context, limit, offset int) ([]*model.Project, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, p *model.Project) error
}

type projectRepo struct {
	db DBTX
}

// NewProjectRepository создаёт репозиторий проектов.
func NewProjectRepository(db DBTX) ProjectRepository {
	return &projectRepo{db: db}
}

const projectColumns = `id, name, description, created_by, created_at, updated_at`

func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	query := `
		INSERT INTO projects (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.Description, p.CreatedBy).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: проект с именем %q уже существует", ErrConflict, p.Name)
		}
		return fmt.Errorf("ошибка создания проекта: %w", err)
	}
	return nil
}

func (r *projectRepo) get(ctx context.Context, where string, arg any) (*model.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE %s = $1`, projectColumns, where)

	p := &model.Project{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения проекта: %w", err)
	}
	return p, nil
}

func (r *projectRepo) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return r.get(ctx, "id", id)
}

func (r *projectRepo) GetByName(ctx context.Context, name string) (*model.Project, error) {
	return r.get(ctx, "name", name)
}

func (r *projectRepo) List(ctx context.Context, limit, offset int) ([]*model.Project, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM projects
		ORDER BY name
		LIMIT $1 OFFSET $2`, projectColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка проектов: %w", err)
	}
	defer rows.Close()

	var result []*model.Project
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования проекта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *projectRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта проектов: %w", err)
	}
	return count, nil
}

func (r *projectRepo) Update(ctx context.Context, p *model.Project) error {
	query := `
		UPDATE projects
		SET name = $2, description = $3
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.Description).Scan(&p.UpdatedAt)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: проект с именем %q уже существует", ErrConflict, p.Name)
		}
		return fmt.Errorf("ошибка обновления проекта: %w", err)
	}
	return nil
}
