package rbac

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestEffectiveRole(t *testing.T) {
	tests := []struct {
		name         string
		idpRole      string
		roleOverride *string
		want         string
	}{
		{name: "worker без override", idpRole: RoleWorker, want: RoleWorker},
		{name: "admin без override", idpRole: RoleAdmin, want: RoleAdmin},
		{
			name:         "worker, override до project_manager - повышение",
			idpRole:      RoleWorker,
			roleOverride: strPtr(RoleProjectManager),
			want:         RoleProjectManager,
		},
		{
			name:         "admin, override до worker - игнорируется",
			idpRole:      RoleAdmin,
			roleOverride: strPtr(RoleWorker),
			want:         RoleAdmin,
		},
		{
			name:         "пустая роль IdP, override admin",
			idpRole:      "",
			roleOverride: strPtr(RoleAdmin),
			want:         RoleAdmin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveRole(tt.idpRole, tt.roleOverride)
			if got != tt.want {
				t.Errorf("EffectiveRole(%q) = %q, хотели %q", tt.idpRole, got, tt.want)
			}
		})
	}
}

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{name: "пустой набор", roles: nil, want: ""},
		{name: "один worker", roles: []string{RoleWorker}, want: RoleWorker},
		{name: "worker + manager", roles: []string{RoleWorker, RoleProjectManager}, want: RoleProjectManager},
		{name: "admin первым", roles: []string{RoleAdmin, RoleWorker}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestMapGroupsToRole(t *testing.T) {
	m := GroupMapping{
		AdminGroups:   []string{"bpo-admins"},
		ManagerGroups: []string{"bpo-managers", "leads"},
		WorkerGroups:  []string{"bpo-workers"},
	}

	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{name: "нет групп", groups: nil, want: ""},
		{name: "неизвестная группа", groups: []string{"guests"}, want: ""},
		{name: "worker", groups: []string{"bpo-workers"}, want: RoleWorker},
		{name: "вторая группа менеджеров", groups: []string{"leads"}, want: RoleProjectManager},
		{name: "worker + admin", groups: []string{"bpo-workers", "bpo-admins"}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapGroupsToRole(tt.groups, m); got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestHasAtLeast(t *testing.T) {
	tests := []struct {
		role, required string
		want           bool
	}{
		{RoleAdmin, RoleProjectManager, true},
		{RoleProjectManager, RoleProjectManager, true},
		{RoleWorker, RoleProjectManager, false},
		{RoleWorker, RoleWorker, true},
		{"", RoleWorker, false},
		{"readonly", RoleWorker, false},
	}

	for _, tt := range tests {
		if got := HasAtLeast(tt.role, tt.required); got != tt.want {
			t.Errorf("HasAtLeast(%q, %q) = %v, хотели %v", tt.role, tt.required, got, tt.want)
		}
	}

	if !CanManage(RoleAdmin) || CanManage(RoleWorker) {
		t.Error("CanManage: неверный результат")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleWorker, RoleProjectManager, RoleAdmin} {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	if IsValidRole("readonly") {
		t.Error("IsValidRole(readonly) = true")
	}
}
