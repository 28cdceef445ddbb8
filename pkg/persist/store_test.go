package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/proficiency"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func buildSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	g := graph.New(proficiency.NewCalculator(proficiency.DefaultConfig()))
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, g.RecordInteraction("fn:Parse", graph.OutcomeSuccess, now, "e1"))
	require.NoError(t, g.RecordInteraction("file:auth.go", graph.OutcomeFailure, now, "e2"))
	require.NoError(t, g.AddDependency("fn:Parse", "file:auth.go"))
	return g.Export()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	snap := buildSnapshot(t)

	require.NoError(t, store.SaveProfile("alice", snap))

	loaded, err := store.LoadProfile("alice")
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 2)
	require.Len(t, loaded.Edges, 1)

	// The loaded snapshot rebuilds an equivalent graph.
	g := graph.New(proficiency.NewCalculator(proficiency.DefaultConfig()))
	require.NoError(t, g.Import(loaded))
	assert.Equal(t, int64(2), g.NodeCount())
	assert.Equal(t, int64(1), g.EdgeCount())
	n, err := g.GetNode("fn:Parse")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Successes)
}

func TestSaveReplacesPrevious(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveProfile("alice", buildSnapshot(t)))

	smaller := &graph.Snapshot{ExportedAt: time.Now(), Nodes: []graph.Node{{ID: "only", Kind: graph.KindFile, Name: "only"}}}
	require.NoError(t, store.SaveProfile("alice", smaller))

	loaded, err := store.LoadProfile("alice")
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 1)
}

func TestLoadUnknownProfile(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadProfile("nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSaveValidation(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.SaveProfile("", buildSnapshot(t)))
	assert.Error(t, store.SaveProfile("alice", nil))
}

func TestDeleteProfile(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveProfile("alice", buildSnapshot(t)))

	require.NoError(t, store.DeleteProfile("alice"))
	_, err := store.LoadProfile("alice")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.DeleteProfile("alice"))
}

func TestListProfiles(t *testing.T) {
	store := openTestStore(t)
	assert.Empty(t, mustList(t, store))

	require.NoError(t, store.SaveProfile("bob", buildSnapshot(t)))
	require.NoError(t, store.SaveProfile("alice", buildSnapshot(t)))

	assert.Equal(t, []string{"alice", "bob"}, mustList(t, store))
}

func mustList(t *testing.T, store *Store) []string {
	t.Helper()
	ids, err := store.ListProfiles()
	require.NoError(t, err)
	return ids
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveProfile("alice", buildSnapshot(t)))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.LoadProfile("alice")
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2)
}
