package model

import "time"

// AutomationConfig - настройки automation-процесса (1:1 с FileProcess).
// Хранится в таблице automation_configs.
type AutomationConfig struct {
	ProcessID string
	// ToolName - инструмент, выполняющий обработку
	ToolName string
	// LastUpdatedAt - время последнего отчёта (nil - отчётов не было)
	LastUpdatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AutomationEntry - дневной отчёт о выполнении.
// Не более одной записи на (процесс, дата).
type AutomationEntry struct {
	ProcessID string
	// Date - календарная дата (UTC, без времени)
	Date           time.Time
	CompletedCount int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
