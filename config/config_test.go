package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/spotisync/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")
	t.Setenv("GENIUS_TOKEN", "")

	conf, err := config.Load(writeConfigFile(t, ""))
	require.NoError(t, err)

	assert.Exactly(t, "info", conf.Log.Level)
	assert.Exactly(t, "auto", conf.Log.Format)
	assert.Exactly(t, "http://127.0.0.1:8080/callback", conf.Spotify.RedirectURI)
	assert.Exactly(t, 30, conf.Lyrics.RequestsPerMinute)
	assert.Exactly(t, 10, conf.Lyrics.Timeouts.Search)
	assert.Exactly(t, 10, conf.Lyrics.Timeouts.FetchPage)
	assert.Exactly(t, "Spotify Playlists", conf.Sync.RootDir)
	assert.Exactly(t, "spotify_cache", conf.Sync.CacheDir)
	assert.Exactly(t, ".", conf.Sync.StateDir)
	assert.Exactly(t, 2, conf.Sync.ParallelFetches)
	assert.Exactly(t, "spotdl", conf.Sync.FetchTool)
	assert.Exactly(t, 600, conf.Sync.FetchTimeout)
	assert.False(t, conf.Sync.DownloadLiked)
	assert.False(t, conf.Lyrics.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")
	t.Setenv("GENIUS_TOKEN", "genius-token")

	path := writeConfigFile(t, `
log:
  level: debug
  format: json
sync:
  root_dir: Music/Spotify
  parallel_fetches: 4
  download_liked: true
lyrics:
  requests_per_minute: 10
  timeouts:
    search: 5
`)

	conf, err := config.Load(path)
	require.NoError(t, err)

	assert.Exactly(t, "debug", conf.Log.Level)
	assert.Exactly(t, "json", conf.Log.Format)
	assert.Exactly(t, "Music/Spotify", conf.Sync.RootDir)
	assert.Exactly(t, 4, conf.Sync.ParallelFetches)
	assert.True(t, conf.Sync.DownloadLiked)
	assert.Exactly(t, 10, conf.Lyrics.RequestsPerMinute)
	assert.Exactly(t, 5, conf.Lyrics.Timeouts.Search)
	assert.Exactly(t, 10, conf.Lyrics.Timeouts.FetchPage)
	assert.True(t, conf.Lyrics.Enabled())
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "")
	t.Setenv("SPOTIFY_SECRET", "")

	_, err := config.Load(writeConfigFile(t, ""))
	require.Error(t, err)
	assert.ErrorContains(t, err, "SPOTIFY_ID")
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")

	path := writeConfigFile(t, `
log:
  level: verbose
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "level")
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
