package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
)

func TestProjectService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.projects.Create(ctx, managerActor, " Claims ", ptr("страховые случаи"))
	require.NoError(t, err)
	assert.Equal(t, "Claims", p.Name)
	assert.Equal(t, "pm", p.CreatedBy)

	_, err = env.projects.Create(ctx, adminActor, "Claims", nil)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = env.projects.Create(ctx, adminActor, "", nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.projects.Create(ctx, alice, "Other", nil)
	assert.ErrorIs(t, err, ErrForbidden)

	upd, err := env.projects.Update(ctx, adminActor, p.ID, ptr("Claims 2024"), ptr(""))
	require.NoError(t, err)
	assert.Equal(t, "Claims 2024", upd.Name)
	assert.Nil(t, upd.Description)

	_, err = env.projects.Update(ctx, adminActor, p.ID, ptr(" "), nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.projects.Update(ctx, adminActor, "missing", ptr("x"), nil)
	assert.ErrorIs(t, err, ErrNotFound)

	items, total, err := env.projects.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)

	got, err := env.projects.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Claims 2024", got.Name)
}

func TestRoleOverrideService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.overrides.Set(ctx, managerActor, alice.UserID, "alice", rbac.RoleProjectManager)
	assert.ErrorIs(t, err, ErrForbidden, "только admin")
	_, err = env.overrides.Set(ctx, adminActor, alice.UserID, "alice", "superuser")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.overrides.Set(ctx, adminActor, " ", "alice", rbac.RoleAdmin)
	assert.ErrorIs(t, err, ErrValidation)

	ro, err := env.overrides.Set(ctx, adminActor, alice.UserID, "alice", rbac.RoleProjectManager)
	require.NoError(t, err)
	assert.Equal(t, "admin", ro.CreatedBy)

	role, err := env.overrides.EffectiveRole(ctx, alice.UserID, rbac.RoleWorker)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectManager, role)

	role, err = env.overrides.EffectiveRole(ctx, alice.UserID, rbac.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role, "override только повышает роль")

	role, err = env.overrides.EffectiveRole(ctx, bob.UserID, rbac.RoleWorker)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleWorker, role)

	items, total, err := env.overrides.List(ctx, adminActor, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)

	require.NoError(t, env.overrides.Delete(ctx, adminActor, alice.UserID))
	assert.ErrorIs(t, env.overrides.Delete(ctx, adminActor, alice.UserID), ErrNotFound)
}
