package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// RoleOverrideService - локальное повышение ролей пользователей IdP.
type RoleOverrideService struct {
	store  repository.Store
	logger *slog.Logger
}

// NewRoleOverrideService создаёт сервис role overrides.
func NewRoleOverrideService(store repository.Store, logger *slog.Logger) *RoleOverrideService {
	return &RoleOverrideService{
		store:  store,
		logger: logger.With(slog.String("component", "role_override_service")),
	}
}

// Set создаёт или заменяет override пользователя. Только admin.
func (s *RoleOverrideService) Set(ctx context.Context, actor model.Actor, userID, username, role string) (*model.RoleOverride, error) {
	if err := requireRole(actor, rbac.RoleAdmin, "изменение ролей"); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id обязателен", ErrValidation)
	}
	if !rbac.IsValidRole(role) {
		return nil, fmt.Errorf("%w: недопустимая роль %q, допустимые: worker, project_manager, admin", ErrValidation, role)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = userID
	}

	ro := &model.RoleOverride{
		ID:             uuid.New().String(),
		UserID:         userID,
		Username:       username,
		AdditionalRole: role,
		CreatedBy:      actor.Username,
	}
	if err := s.store.Repos().RoleOverrides.Upsert(ctx, ro); err != nil {
		return nil, err
	}

	s.logger.Info("Role override установлен",
		slog.String("user_id", userID),
		slog.String("role", role),
		slog.String("actor", actor.Username),
	)
	return ro, nil
}

// Delete удаляет override пользователя. Только admin.
func (s *RoleOverrideService) Delete(ctx context.Context, actor model.Actor, userID string) error {
	if err := requireRole(actor, rbac.RoleAdmin, "изменение ролей"); err != nil {
		return err
	}
	if err := s.store.Repos().RoleOverrides.Delete(ctx, userID); err != nil {
		return mapRepoError(err, "role override "+userID)
	}

	s.logger.Info("Role override удалён",
		slog.String("user_id", userID),
		slog.String("actor", actor.Username),
	)
	return nil
}

// List возвращает overrides и общее количество. Только admin.
func (s *RoleOverrideService) List(ctx context.Context, actor model.Actor, limit, offset int) ([]*model.RoleOverride, int, error) {
	if err := requireRole(actor, rbac.RoleAdmin, "просмотр ролей"); err != nil {
		return nil, 0, err
	}
	limit, offset = clampPage(limit, offset)
	repos := s.store.Repos()

	items, err := repos.RoleOverrides.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.RoleOverrides.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// EffectiveRole возвращает максимум из роли IdP и локального override.
func (s *RoleOverrideService) EffectiveRole(ctx context.Context, userID, idpRole string) (string, error) {
	ro, err := s.store.Repos().RoleOverrides.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return rbac.EffectiveRole(idpRole, nil), nil
		}
		return "", err
	}
	return rbac.EffectiveRole(idpRole, &ro.AdditionalRole), nil
}
