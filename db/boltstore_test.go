package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltCheckpointStoreRoundTrip(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Add(NewObject(0, 0)))

	path := filepath.Join(t.TempDir(), "snapshots.db")
	bcs, err := OpenBoltCheckpointStore(path)
	require.NoError(t, err)
	defer bcs.Close()

	require.NoError(t, bcs.SaveSnapshot(1, store))
	require.NoError(t, bcs.SaveSnapshot(2, store))

	raw, generation, err := bcs.LoadLatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(2), generation)
	assert.NotEmpty(t, raw)
	assert.Contains(t, string(raw), "LambdaMOO Database, Format Version 17")
}

func TestBoltCheckpointStorePrune(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Add(NewObject(0, 0)))

	path := filepath.Join(t.TempDir(), "snapshots.db")
	bcs, err := OpenBoltCheckpointStore(path)
	require.NoError(t, err)
	defer bcs.Close()

	for gen := int64(1); gen <= 5; gen++ {
		require.NoError(t, bcs.SaveSnapshot(gen, store))
	}
	require.NoError(t, bcs.Prune(2))

	_, generation, err := bcs.LoadLatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(5), generation)
}
