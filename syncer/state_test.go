package syncer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/spotisync/syncer"
)

func TestStoreStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	assert.Empty(t, store.LoadState())

	require.NoError(t, store.MergeState(map[string][]string{
		"playlist_a": {"t1", "t2"},
	}))
	require.NoError(t, store.MergeState(map[string][]string{
		"playlist_b": {"t3"},
	}))

	state := store.LoadState()
	assert.ElementsMatch(t, []string{"t1", "t2"}, state["playlist_a"])
	assert.ElementsMatch(t, []string{"t3"}, state["playlist_b"])
}

func TestStoreMergeOverwritesOnlyGivenKeys(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	require.NoError(t, store.MergeState(map[string][]string{
		"playlist_a": {"t1"},
		"playlist_b": {"t2"},
	}))
	require.NoError(t, store.MergeState(map[string][]string{
		"playlist_a": {"t1", "t9"},
	}))

	state := store.LoadState()
	assert.ElementsMatch(t, []string{"t1", "t9"}, state["playlist_a"])
	assert.ElementsMatch(t, []string{"t2"}, state["playlist_b"])
}

func TestStoreClearState(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	require.NoError(t, store.MergeState(map[string][]string{"playlist_a": {"t1"}}))
	require.NoError(t, store.ClearState())
	assert.Empty(t, store.LoadState())

	// Clearing an already-clear store is not an error.
	require.NoError(t, store.ClearState())
}

func TestStoreCorruptStateTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".sync_state.json"), []byte("{not json"), 0o600))

	store := syncer.NewStore(dir)
	assert.Empty(t, store.LoadState())

	// The store must still be able to make forward progress.
	require.NoError(t, store.MergeState(map[string][]string{"playlist_a": {"t1"}}))
	assert.ElementsMatch(t, []string{"t1"}, store.LoadState()["playlist_a"])
}

func TestStoreSongMap(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	assert.Empty(t, store.LoadSongMap())

	require.NoError(t, store.SetSong("Song A.mp3", "t1"))
	require.NoError(t, store.SetSong("Song B.mp3", "t2"))
	assert.Exactly(t, map[string]string{
		"Song A.mp3": "t1",
		"Song B.mp3": "t2",
	}, store.LoadSongMap())

	require.NoError(t, store.DeleteSongs([]string{"Song A.mp3", "missing.mp3"}))
	assert.Exactly(t, map[string]string{"Song B.mp3": "t2"}, store.LoadSongMap())
}

func TestStoreConcurrentSetSong(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			name := string(rune('a'+i)) + ".mp3"
			assert.NoError(t, store.SetSong(name, "t"+string(rune('0'+i))))
		}()
	}
	for range 8 {
		<-done
	}

	assert.Len(t, store.LoadSongMap(), 8)
}

func TestStoreSelection(t *testing.T) {
	t.Parallel()

	store := syncer.NewStore(t.TempDir())

	_, ok := store.LoadSelection()
	assert.False(t, ok)

	want := &syncer.Selection{Selected: []string{"p1", "p2"}, Liked: true}
	require.NoError(t, store.SaveSelection(want))

	got, ok := store.LoadSelection()
	require.True(t, ok)
	assert.Exactly(t, want, got)
}
