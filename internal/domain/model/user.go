package model

import "time"

// Project - проект, к которому относятся процессы.
// Хранится в таблице projects.
type Project struct {
	ID          string
	Name        string
	Description *string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor - аутентифицированный инициатор операции.
// Формируется из JWT-claims и role_overrides, в БД не хранится.
type Actor struct {
	// UserID - sub из JWT
	UserID   string
	Username string
	// Role - эффективная роль (worker, project_manager, admin)
	Role string
}

// RoleOverride - локальное дополнение роли пользователя.
// Хранится в таблице role_overrides.
type RoleOverride struct {
	ID string
	// UserID - идентификатор пользователя в Keycloak (sub)
	UserID string
	// Username - кэшированное имя пользователя
	Username string
	// AdditionalRole - дополнительная роль
	AdditionalRole string
	// CreatedBy - кто установил override
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
