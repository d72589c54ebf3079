package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	badgerstore "github.com/ternarybob/maestro/internal/storage/badger"
)

func testStore(t *testing.T) (*Store, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	manager := badgerstore.NewManagerWithDB(db, logger)
	store := NewStore(manager.ArtifactStorage(), manager.AuditStorage(), nil, logger)
	return store, manager
}

func chartArtifact(role string) *models.Artifact {
	return models.NewArtifact("task-1", "job-1", models.ArtifactTypeChart, role,
		"latency.json", "artifacts/job-1/latency.json", "application/json", nil)
}

func TestRegister_StartsChainAtVersionOne(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	registered, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)
	assert.Equal(t, 1, registered.Version)
	assert.True(t, registered.IsCurrent)
	assert.Equal(t, models.ArtifactStatusDraft, registered.Status)
	assert.Empty(t, registered.ParentArtifactID)
}

func TestRegister_SupersedesCurrent(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	v1, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)

	v2, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.ParentArtifactID)
	assert.True(t, v2.IsCurrent)

	// The superseded version loses its current flag.
	reloaded, err := store.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsCurrent)

	versions, err := store.Versions(ctx, "job-1", models.ArtifactTypeChart, "latency_p95")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestRegister_SeparateRolesAreSeparateChains(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	p95, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)
	p99, err := store.Register(ctx, chartArtifact("latency_p99"))
	require.NoError(t, err)

	assert.Equal(t, 1, p95.Version)
	assert.Equal(t, 1, p99.Version)
	assert.True(t, p95.IsCurrent)
	assert.True(t, p99.IsCurrent)
}

func TestRegister_RejectsInvalidTypeAndRole(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	bad := chartArtifact("latency_p95")
	bad.Type = "hologram"
	_, err := store.Register(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	bad = chartArtifact("Latency-P95")
	_, err = store.Register(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestRegister_FrozenChainCannotBeSuperseded(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	v1, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)

	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusApproved, "reviewer-1")
	require.NoError(t, err)
	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.NoError(t, err)

	_, err = store.Register(ctx, chartArtifact("latency_p95"))
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestPromote_SingleStepLifecycle(t *testing.T) {
	store, manager := testStore(t)
	ctx := context.Background()

	v1, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)

	approved, err := store.Promote(ctx, v1.ID, models.ArtifactStatusApproved, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactStatusApproved, approved.Status)
	assert.Nil(t, approved.FrozenAt)

	frozen, err := store.Promote(ctx, v1.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactStatusFrozen, frozen.Status)
	require.NotNil(t, frozen.FrozenAt)

	entries, err := manager.AuditStorage().GetAuditByArtifact(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, "reviewer-1", entry.Actor)
		assert.Equal(t, "job-1", entry.JobID)
	}
}

func TestPromote_SkipAndBackwardAreConflicts(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	v1, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)

	// draft -> frozen skips a step.
	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusApproved, "reviewer-1")
	require.NoError(t, err)

	// approved -> draft moves backwards.
	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusDraft, "reviewer-1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.NoError(t, err)

	// Frozen is terminal.
	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusApproved, "reviewer-1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestPromote_OneFrozenVersionPerChain(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	v1, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)
	v2, err := store.Register(ctx, chartArtifact("latency_p95"))
	require.NoError(t, err)

	for _, id := range []string{v1.ID, v2.ID} {
		_, err = store.Promote(ctx, id, models.ArtifactStatusApproved, "reviewer-1")
		require.NoError(t, err)
	}

	_, err = store.Promote(ctx, v1.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.NoError(t, err)

	_, err = store.Promote(ctx, v2.ID, models.ArtifactStatusFrozen, "reviewer-1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestVersions_RejectsInvalidType(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Versions(context.Background(), "job-1", "hologram", "latency_p95")
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}
