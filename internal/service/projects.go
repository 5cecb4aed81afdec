package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// ProjectService - бизнес-логика проектов.
type ProjectService struct {
	store  repository.Store
	logger *slog.Logger
}

// NewProjectService создаёт сервис проектов.
func NewProjectService(store repository.Store, logger *slog.Logger) *ProjectService {
	return &ProjectService{
		store:  store,
		logger: logger.With(slog.String("component", "project_service")),
	}
}

// Create создаёт проект. Имя уникально.
func (s *ProjectService) Create(ctx context.Context, actor model.Actor, name string, description *string) (*model.Project, error) {
	if err := requireManager(actor, "создание проекта"); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: название проекта обязательно", ErrValidation)
	}

	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: trimmed(description),
		CreatedBy:   actor.Username,
	}
	if err := s.store.Repos().Projects.Create(ctx, p); err != nil {
		return nil, mapRepoError(err, "проект")
	}

	s.logger.Info("Проект создан",
		slog.String("id", p.ID),
		slog.String("name", p.Name),
		slog.String("created_by", actor.Username),
	)
	return p, nil
}

// Get возвращает проект по ID.
func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.store.Repos().Projects.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "проект "+id)
	}
	return p, nil
}

// List возвращает проекты по имени и общее количество.
func (s *ProjectService) List(ctx context.Context, limit, offset int) ([]*model.Project, int, error) {
	limit, offset = clampPage(limit, offset)
	repos := s.store.Repos()

	items, err := repos.Projects.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Projects.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update изменяет название и описание. nil - поле не меняется.
func (s *ProjectService) Update(ctx context.Context, actor model.Actor, id string, name, description *string) (*model.Project, error) {
	if err := requireManager(actor, "изменение проекта"); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	p, err := repos.Projects.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "проект "+id)
	}

	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, fmt.Errorf("%w: название проекта не может быть пустым", ErrValidation)
		}
		p.Name = n
	}
	if description != nil {
		p.Description = trimmed(description)
	}

	if err := repos.Projects.Update(ctx, p); err != nil {
		return nil, mapRepoError(err, "проект "+id)
	}

	s.logger.Info("Проект обновлён",
		slog.String("id", p.ID),
		slog.String("updated_by", actor.Username),
	)
	return p, nil
}

// resolveProject находит проект по ID или по имени.
func resolveProject(ctx context.Context, r *repository.Repositories, ref string) (*model.Project, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: проект обязателен", ErrValidation)
	}

	if _, err := uuid.Parse(ref); err == nil {
		p, err := r.Projects.GetByID(ctx, ref)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	p, err := r.Projects.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: проект %q не найден", ErrValidation, ref)
		}
		return nil, err
	}
	return p, nil
}
