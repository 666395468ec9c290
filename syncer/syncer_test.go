package syncer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/spotisync/lyrics"
	"github.com/xeptore/spotisync/spotify"
	"github.com/xeptore/spotisync/syncer"
)

type fakeCatalog struct {
	playlists map[string][]spotify.Track
	liked     []spotify.Track
	err       error
}

func (c *fakeCatalog) PlaylistTracks(_ context.Context, id string) ([]spotify.Track, error) {
	if nil != c.err {
		return nil, c.err
	}

	return c.playlists[id], nil
}

func (c *fakeCatalog) LikedTracks(context.Context) ([]spotify.Track, error) {
	if nil != c.err {
		return nil, c.err
	}

	return c.liked, nil
}

// fakeFetcher plays the external tool: it drops an audio file into the cache
// directory and returns its path. Failures are injected per track ID.
type fakeFetcher struct {
	mux      sync.Mutex
	cacheDir string
	fails    map[string]error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, trackID string) (string, error) {
	f.mux.Lock()
	f.calls++
	f.mux.Unlock()

	if err, ok := f.fails[trackID]; ok {
		return "", err
	}

	path := filepath.Join(f.cacheDir, trackID+".mp3")
	if err := os.WriteFile(path, id3Bytes, 0o644); nil != err {
		return "", err
	}

	return path, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.calls
}

type fakeResolver struct {
	results map[string]lyrics.Result
}

func (r *fakeResolver) Resolve(_ context.Context, trackID, _, _ string) lyrics.Result {
	if res, ok := r.results[trackID]; ok {
		return res
	}

	return lyrics.Result{Kind: lyrics.KindNotFound, Text: "", Err: nil}
}

type syncFixture struct {
	syncer  *syncer.Syncer
	store   *syncer.Store
	catalog *fakeCatalog
	fetcher *fakeFetcher
	library string
}

func newSyncFixture(t *testing.T, catalog *fakeCatalog, resolver *fakeResolver) *syncFixture {
	t.Helper()

	root := t.TempDir()
	libraryDir := filepath.Join(root, "library")
	cacheDir := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(libraryDir, 0o755))
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	if nil == resolver {
		resolver = &fakeResolver{results: nil}
	}

	store := syncer.NewStore(root)
	fetcher := &fakeFetcher{
		mux:      sync.Mutex{},
		cacheDir: cacheDir,
		fails:    nil,
		calls:    0,
	}

	return &syncFixture{
		syncer: syncer.New(
			zerolog.Nop(),
			catalog,
			fetcher,
			resolver,
			store,
			syncer.LibraryDirFrom(libraryDir),
			syncer.CacheDirFrom(cacheDir),
			2,
		),
		store:   store,
		catalog: catalog,
		fetcher: fetcher,
		library: libraryDir,
	}
}

func track(id, name string) spotify.Track {
	return spotify.Track{ID: id, Name: name, Artists: []string{"Artist"}}
}

func TestSyncCollectionFreshFolder(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One"), track("a2", "Song Two")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Skipped)
	assert.Exactly(t, 2, fx.fetcher.fetchCount())

	folder := filepath.Join(fx.library, "Road Trip [pl1]")
	for name, id := range map[string]string{"Song One.mp3": "a1", "Song Two.mp3": "a2"} {
		got, ok := syncer.ReadProvenance(filepath.Join(folder, name))
		require.True(t, ok, name)
		assert.Exactly(t, id, got)
	}

	state := fx.store.LoadState()
	assert.ElementsMatch(t, []string{"a1", "a2"}, state["playlist_pl1"])

	songMap := fx.store.LoadSongMap()
	assert.Len(t, songMap, 2)
	assert.Exactly(t, "a1", songMap["Road Trip [pl1]/Song One.mp3"])
}

func TestSyncCollectionSecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One"), track("a2", "Song Two")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	_, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)
	firstRunFetches := fx.fetcher.fetchCount()

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, firstRunFetches, fx.fetcher.fetchCount(), "second run must not fetch anything")
	assert.Exactly(t, 2, res.Skipped)
	assert.Zero(t, res.Attempted)
}

func TestSyncCollectionRemovesDepartedTracks(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One"), track("a2", "Song Two")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	_, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	catalog.playlists["pl1"] = []spotify.Track{track("a1", "Song One")}

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, 1, res.Deleted)
	assert.NoFileExists(t, filepath.Join(fx.library, "Road Trip [pl1]", "Song Two.mp3"))
	assert.FileExists(t, filepath.Join(fx.library, "Road Trip [pl1]", "Song One.mp3"))

	songMap := fx.store.LoadSongMap()
	assert.NotContains(t, songMap, "Road Trip [pl1]/Song Two.mp3")
	assert.Contains(t, songMap, "Road Trip [pl1]/Song One.mp3")

	state := fx.store.LoadState()
	assert.ElementsMatch(t, []string{"a1"}, state["playlist_pl1"])
}

func TestSyncCollectionToolMissingHalts(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One"), track("a2", "Song Two")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	fx.fetcher.fails = map[string]error{
		"a1": syncer.ErrToolMissing,
		"a2": syncer.ErrToolMissing,
	}
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	_, err := fx.syncer.SyncCollection(context.Background(), col)
	assert.ErrorIs(t, err, syncer.ErrToolMissing)
}

func TestSyncCollectionIsolatedFailureContinues(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One"), track("a2", "Song Two")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	fx.fetcher.fails = map[string]error{"a1": syncer.ErrTrackNotFound}
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, 1, res.Failed)
	assert.Exactly(t, 1, res.Succeeded)

	state := fx.store.LoadState()
	assert.ElementsMatch(t, []string{"a2"}, state["playlist_pl1"])
}

func TestSyncCollectionReusesCachedAudio(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One")},
			"pl2": {track("a1", "Song One")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)

	_, err := fx.syncer.SyncCollection(
		context.Background(),
		syncer.Collection{Liked: false, ID: "pl1", Name: "First"},
	)
	require.NoError(t, err)
	require.Exactly(t, 1, fx.fetcher.fetchCount())

	_, err = fx.syncer.SyncCollection(
		context.Background(),
		syncer.Collection{Liked: false, ID: "pl2", Name: "Second"},
	)
	require.NoError(t, err)

	assert.Exactly(t, 1, fx.fetcher.fetchCount(), "second collection must reuse the cached audio file")
	assert.FileExists(t, filepath.Join(fx.library, "Second [pl2]", "Song One.mp3"))
}

func TestSyncCollectionMembershipFailureDegrades(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	_, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	// The listing now fails. The run must neither error out nor mistake the
	// degraded empty listing for an emptied playlist.
	catalog.err = errors.New("api unavailable")

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Zero(t, res.Deleted)
	assert.FileExists(t, filepath.Join(fx.library, "Road Trip [pl1]", "Song One.mp3"))
}

func TestSyncCollectionRepairsSongMapFromProvenance(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	// A tagged file exists but the song map knows nothing about it, as after
	// a lost or deleted song map file.
	folder := filepath.Join(fx.library, "Road Trip [pl1]")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	dest := filepath.Join(folder, "Song One.mp3")
	require.NoError(t, os.WriteFile(dest, id3Bytes, 0o644))
	require.NoError(t, syncer.EmbedProvenance(dest, "a1"))

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, 1, res.Skipped)
	assert.Zero(t, fx.fetcher.fetchCount())

	songMap := fx.store.LoadSongMap()
	assert.Exactly(t, "a1", songMap["Road Trip [pl1]/Song One.mp3"])
}

func TestSyncCollectionEmbedsLyrics(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One")},
		},
		liked: nil,
		err:   nil,
	}
	resolver := &fakeResolver{
		results: map[string]lyrics.Result{
			"a1": {Kind: lyrics.KindFound, Text: "la la la", Err: nil},
		},
	}
	fx := newSyncFixture(t, catalog, resolver)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	_, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	dest := filepath.Join(fx.library, "Road Trip [pl1]", "Song One.mp3")

	id, ok := syncer.ReadProvenance(dest)
	require.True(t, ok)
	assert.Exactly(t, "a1", id)

	tag, err := id3v2.Open(dest, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tag.Close())
	}()

	frames := tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
	require.Len(t, frames, 1)

	uslt, ok := frames[0].(id3v2.UnsynchronisedLyricsFrame)
	require.True(t, ok)
	assert.Exactly(t, "la la la", uslt.Lyrics)
}

func TestSyncCollectionLikedSongs(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: nil,
		liked:     []spotify.Track{track("a1", "Song One")},
		err:       nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: true, ID: "", Name: ""}

	res, err := fx.syncer.SyncCollection(context.Background(), col)
	require.NoError(t, err)

	assert.Exactly(t, 1, res.Succeeded)
	assert.FileExists(t, filepath.Join(fx.library, "Liked_Songs", "Song One.mp3"))

	state := fx.store.LoadState()
	assert.ElementsMatch(t, []string{"a1"}, state["playlist_liked"])
}

func TestSyncCollectionCanceledContext(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		playlists: map[string][]spotify.Track{
			"pl1": {track("a1", "Song One")},
		},
		liked: nil,
		err:   nil,
	}
	fx := newSyncFixture(t, catalog, nil)
	col := syncer.Collection{Liked: false, ID: "pl1", Name: "Road Trip"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.syncer.SyncCollection(ctx, col)
	assert.ErrorIs(t, err, context.Canceled)
}
