package service

import (
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
)

// Отношения инициатора к заявке, используемые в ForbiddenError.Required.
const (
	requiredAssignee = "assignee"
	requiredOwner    = "owner"
	requiredOther    = "other_than_assignee"
)

// requireRole проверяет, что роль инициатора не ниже required.
func requireRole(actor model.Actor, required, action string) error {
	if rbac.HasAtLeast(actor.Role, required) {
		return nil
	}
	return &ForbiddenError{Role: actor.Role, Required: required, Reason: action}
}

// requireManager - admin или project_manager.
func requireManager(actor model.Actor, action string) error {
	return requireRole(actor, rbac.RoleProjectManager, action)
}

// requireAssignee проверяет, что инициатор - исполнитель заявки.
func requireAssignee(actor model.Actor, r *model.FileRequest, action string) error {
	if actor.UserID == r.UserID {
		return nil
	}
	return &ForbiddenError{Role: actor.Role, Required: requiredAssignee, Reason: action}
}

// canSeeRequest - работник видит только свои заявки.
func canSeeRequest(actor model.Actor, r *model.FileRequest) bool {
	return rbac.CanManage(actor.Role) || actor.UserID == r.UserID
}
