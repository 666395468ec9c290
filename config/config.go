package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/spotisync/redact"
)

type Config struct {
	Log     Log     `yaml:"log"`
	Spotify Spotify `yaml:"spotify"`
	Lyrics  Lyrics  `yaml:"lyrics"`
	Sync    Sync    `yaml:"sync"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("spotify", c.Spotify.ToDict()).
		Dict("lyrics", c.Lyrics.ToDict()).
		Dict("sync", c.Sync.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Spotify.setDefaults()
	c.Lyrics.setDefaults()
	c.Sync.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Spotify.validate(); nil != err {
		return fmt.Errorf("spotify config validation failed: %v", err)
	}

	if err := c.Lyrics.validate(); nil != err {
		return fmt.Errorf("lyrics config validation failed: %v", err)
	}

	if err := c.Sync.validate(); nil != err {
		return fmt.Errorf("sync config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "auto"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty", "auto"}, strings.ToLower(c.Format)) {
		return fmt.Errorf("format must be 'json', 'pretty', or 'auto', got: %s", c.Format)
	}

	return nil
}

type Spotify struct {
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	RedirectURI  string `yaml:"redirect_uri"`
	TokenFile    string `yaml:"token_file"`
}

func (c *Spotify) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("client_id", redact.String(c.ClientID)).
		Str("client_secret", redact.String(c.ClientSecret)).
		Str("redirect_uri", c.RedirectURI).
		Str("token_file", c.TokenFile)
}

func (c *Spotify) setDefaults() {
	if c.RedirectURI == "" {
		// Spotify requires an explicit IPv4 loopback redirect for local apps.
		c.RedirectURI = "http://127.0.0.1:8080/callback"
	}
}

func (c *Spotify) validate() error {
	if c.ClientID == "" {
		return errors.New("make sure the SPOTIFY_ID environment variable is set")
	}

	if c.ClientSecret == "" {
		return errors.New("make sure the SPOTIFY_SECRET environment variable is set")
	}

	return nil
}

type Lyrics struct {
	Token             string `yaml:"-"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Timeouts          LyricsTimeouts `yaml:"timeouts"`
}

func (c *Lyrics) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("token", redact.String(c.Token)).
		Int("requests_per_minute", c.RequestsPerMinute).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Lyrics) setDefaults() {
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 30
	}

	c.Timeouts.setDefaults()
}

func (c *Lyrics) validate() error {
	if c.RequestsPerMinute < 0 {
		return errors.New("requests_per_minute must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

// Enabled reports whether lyrics lookup is configured at all. Without a
// Genius token the resolver is a no-op and no network calls are attempted.
func (c *Lyrics) Enabled() bool {
	return c.Token != ""
}

type LyricsTimeouts struct {
	Search    int `yaml:"search"`
	FetchPage int `yaml:"fetch_page"`
}

func (c *LyricsTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("search", c.Search).
		Int("fetch_page", c.FetchPage)
}

func (c *LyricsTimeouts) setDefaults() {
	if c.Search == 0 {
		c.Search = 10
	}

	if c.FetchPage == 0 {
		c.FetchPage = 10
	}
}

func (c *LyricsTimeouts) validate() error {
	if c.Search < 0 {
		return errors.New("search must be greater than 0")
	}

	if c.FetchPage < 0 {
		return errors.New("fetch_page must be greater than 0")
	}

	return nil
}

type Sync struct {
	RootDir         string `yaml:"root_dir"`
	CacheDir        string `yaml:"cache_dir"`
	StateDir        string `yaml:"state_dir"`
	ParallelFetches int    `yaml:"parallel_fetches"`
	DownloadLiked   bool   `yaml:"download_liked"`
	FetchTool       string `yaml:"fetch_tool"`
	FetchTimeout    int    `yaml:"fetch_timeout"`
}

func (c *Sync) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("root_dir", c.RootDir).
		Str("cache_dir", c.CacheDir).
		Str("state_dir", c.StateDir).
		Int("parallel_fetches", c.ParallelFetches).
		Bool("download_liked", c.DownloadLiked).
		Str("fetch_tool", c.FetchTool).
		Int("fetch_timeout", c.FetchTimeout)
}

func (c *Sync) setDefaults() {
	if c.RootDir == "" {
		c.RootDir = "Spotify Playlists"
	}

	if c.CacheDir == "" {
		c.CacheDir = "spotify_cache"
	}

	if c.StateDir == "" {
		c.StateDir = "."
	}

	if c.ParallelFetches == 0 {
		c.ParallelFetches = 2
	}

	if c.FetchTool == "" {
		c.FetchTool = "spotdl"
	}

	if c.FetchTimeout == 0 {
		c.FetchTimeout = 600
	}
}

func (c *Sync) validate() error {
	if c.ParallelFetches < 0 {
		return errors.New("parallel_fetches must be greater than 0")
	}

	if c.FetchTimeout < 0 {
		return errors.New("fetch_timeout must be greater than 0")
	}

	return nil
}

func Load(filename string) (*Config, error) {
	var conf Config

	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		// Missing config file is fine since credentials come from the
		// environment and every other key has a default. An explicitly
		// given path must exist, though.
		if !errors.Is(err, os.ErrNotExist) || len(filename) > 0 {
			return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
		}
	} else if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.Spotify.ClientID = os.Getenv("SPOTIFY_ID")
	conf.Spotify.ClientSecret = os.Getenv("SPOTIFY_SECRET")
	conf.Lyrics.Token = os.Getenv("GENIUS_TOKEN")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
