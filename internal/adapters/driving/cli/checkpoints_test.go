package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func saveCheckpoint(t *testing.T, env *testEnv, entity string, lastPage int) {
	t.Helper()
	cp, err := domain.NewPageCheckpoint(entity, "run-1", domain.PageCheckpoint{
		LastPage:        lastPage,
		PageLimit:       1000,
		TotalRecords:    (lastPage + 1) * 1000,
		LastPageRecords: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.checkpoints.Save(context.Background(), cp))
}

func TestCheckpointsList(t *testing.T) {
	env := setupServices(t)
	saveCheckpoint(t, env, "contacts", 4)
	saveCheckpoint(t, env, "companies", 0)

	out, err := execute(t, "checkpoints", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "contacts")
	assert.Contains(t, out, "companies")
	assert.Contains(t, out, "5000")
	assert.Contains(t, out, "run-1")
}

func TestCheckpointsList_Empty(t *testing.T) {
	setupServices(t)

	out, err := execute(t, "checkpoints", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoints stored.")
}

func TestCheckpointsClear_Named(t *testing.T) {
	env := setupServices(t)
	saveCheckpoint(t, env, "contacts", 4)
	saveCheckpoint(t, env, "companies", 0)

	out, err := execute(t, "checkpoints", "clear", "contacts", "contacts")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared checkpoints for 1 entity.")

	cp, err := env.checkpoints.GetLast(context.Background(), "contacts", domain.CheckpointPage)
	require.NoError(t, err)
	assert.Nil(t, cp)
	cp, err = env.checkpoints.GetLast(context.Background(), "companies", domain.CheckpointPage)
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestCheckpointsClear_All(t *testing.T) {
	env := setupServices(t)
	saveCheckpoint(t, env, "contacts", 4)
	saveCheckpoint(t, env, "companies", 0)

	out, err := execute(t, "checkpoints", "clear", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared checkpoints for 2 entities.")

	cps, err := env.checkpoints.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCheckpointsClear_NeedsTarget(t *testing.T) {
	setupServices(t)

	_, err := execute(t, "checkpoints", "clear")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckpointsCmd_NotConfigured(t *testing.T) {
	clearServices(t)

	_, err := execute(t, "checkpoints", "list")
	assert.ErrorContains(t, err, "checkpoint store not configured")
}
