// Пакет rbac - определение эффективной роли пользователя.
// Двухуровневая авторизация: роль из групп IdP + локальное дополнение.
// Итоговая роль = max(роль из IdP, локальное дополнение), роль можно
// только повысить.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleWorker         = "worker"
	RoleProjectManager = "project_manager"
	RoleAdmin          = "admin"
)

// roleWeight - вес роли для сравнения.
var roleWeight = map[string]int{
	RoleWorker:         1,
	RoleProjectManager: 2,
	RoleAdmin:          3,
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, roleOverride).
func EffectiveRole(idpRole string, roleOverride *string) string {
	if roleOverride == nil {
		return idpRole
	}
	return maxRole(idpRole, *roleOverride)
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Для пустого набора - пустая строка.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// GroupMapping - соответствие групп IdP ролям.
type GroupMapping struct {
	AdminGroups   []string
	ManagerGroups []string
	WorkerGroups  []string
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Если ни одна группа не совпала - пустая строка.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	adminSet := toSet(m.AdminGroups)
	managerSet := toSet(m.ManagerGroups)
	workerSet := toSet(m.WorkerGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if managerSet[g] {
			roles = append(roles, RoleProjectManager)
		}
		if workerSet[g] {
			roles = append(roles, RoleWorker)
		}
	}

	return HighestRole(roles)
}

// HasAtLeast проверяет, что роль не ниже требуемой.
// Неизвестная роль не удовлетворяет ни одному требованию.
func HasAtLeast(role, required string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[required]
}

// CanManage - может ли роль назначать, проверять и администрировать процессы.
func CanManage(role string) bool {
	return HasAtLeast(role, RoleProjectManager)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
