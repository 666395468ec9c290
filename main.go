package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/core"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/spotisync/cache"
	"github.com/xeptore/spotisync/config"
	"github.com/xeptore/spotisync/constants"
	"github.com/xeptore/spotisync/iterutil"
	"github.com/xeptore/spotisync/log"
	"github.com/xeptore/spotisync/lyrics"
	"github.com/xeptore/spotisync/spotify"
	"github.com/xeptore/spotisync/syncer"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "spotisync",
		Version: constants.Version,
		Metadata: map[string]any{
			"compiled_at": constants.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Incremental Spotify playlist synchronizer",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:   "login",
				Usage:  "Authenticate with Spotify and cache the token",
				Action: loginAction,
			},
			//nolint:exhaustruct
			{
				Name:   "select",
				Usage:  "Choose which playlists to keep in sync",
				Action: selectAction,
			},
			//nolint:exhaustruct
			{
				Name:   "sync",
				Usage:  "Synchronize the selected playlists to local folders",
				Action: syncAction,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Interrupted. Progress is saved and the next run resumes from here.")
			os.Exit(0)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	auth, err := spotify.NewAuthenticator(conf.Spotify)
	if nil != err {
		return fmt.Errorf("create authenticator: %v", err)
	}

	if err := auth.Login(ctx, logger); nil != err {
		if errors.Is(err, spotify.ErrAuthTimeout) {
			logger.Error().Msg("Timed out waiting for the browser callback. Please try again.")
			return exitCodeError(1)
		}

		return fmt.Errorf("login to spotify: %w", err)
	}

	logger.Info().Msg("Authenticated with Spotify successfully")

	return nil
}

func selectAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		logger.Error().Msg("Playlist selection is interactive and needs a TTY.")
		return exitCodeError(1)
	}

	auth, err := spotify.NewAuthenticator(conf.Spotify)
	if nil != err {
		return fmt.Errorf("create authenticator: %v", err)
	}

	client, err := auth.Authenticate(ctx, logger)
	if nil != err {
		return fmt.Errorf("authenticate with spotify: %w", err)
	}

	sel, err := promptSelection(ctx, logger, client, conf)
	if nil != err {
		return err
	}

	store := syncer.NewStore(conf.Sync.StateDir)
	if err := store.SaveSelection(sel); nil != err {
		return fmt.Errorf("save selection: %w", err)
	}

	logger.Info().
		Int("playlists", len(sel.Selected)).
		Bool("liked_songs", sel.Liked).
		Msg("Selection saved")

	return nil
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	auth, err := spotify.NewAuthenticator(conf.Spotify)
	if nil != err {
		return fmt.Errorf("create authenticator: %v", err)
	}

	client, err := auth.Authenticate(ctx, logger)
	if nil != err {
		return fmt.Errorf("authenticate with spotify: %w", err)
	}

	store := syncer.NewStore(conf.Sync.StateDir)

	sel, err := resolveSelection(ctx, logger, client, conf, store)
	if nil != err {
		return err
	}

	if err := os.MkdirAll(conf.Sync.RootDir, 0o755); nil != err {
		return fmt.Errorf("create library root directory: %v", err)
	}

	cacheDir := syncer.CacheDirFrom(conf.Sync.CacheDir)
	if err := cacheDir.Ensure(); nil != err {
		return err
	}

	fetcher := syncer.NewFetcher(
		conf.Sync.FetchTool,
		cacheDir,
		time.Duration(conf.Sync.FetchTimeout)*time.Second,
	)
	resolver := lyrics.NewResolver(logger, conf.Lyrics, cache.New())
	if !conf.Lyrics.Enabled() {
		logger.Info().Msg("No Genius token configured. Skipping lyrics embedding.")
	}

	engine := syncer.New(
		logger,
		client,
		fetcher,
		resolver,
		store,
		syncer.LibraryDirFrom(conf.Sync.RootDir),
		cacheDir,
		conf.Sync.ParallelFetches,
	)

	session := syncer.NewSession(logger, client, engine, store)
	if err := session.Run(ctx, sel); nil != err {
		if errors.Is(err, syncer.ErrToolMissing) {
			logger.Error().
				Str("tool", conf.Sync.FetchTool).
				Msg("Fetch tool was not found on PATH. Install it and run sync again.")
			return exitCodeError(2)
		}

		return err
	}

	return nil
}

// resolveSelection returns the collection selection for this sync run,
// preferring the saved one. On a TTY the user may decline the saved
// selection and pick again; without a TTY a saved selection is required.
func resolveSelection(
	ctx context.Context,
	logger zerolog.Logger,
	client *spotify.Client,
	conf *config.Config,
	store *syncer.Store,
) (*syncer.Selection, error) {
	sel, saved := store.LoadSelection()
	interactive := isatty.IsTerminal(os.Stdin.Fd())

	if saved && interactive {
		reuse := true
		prompt := &survey.Confirm{ //nolint:exhaustruct
			Message: fmt.Sprintf(
				"Use saved selection (%d playlists%s)?",
				len(sel.Selected),
				lo.Ternary(sel.Liked, " and liked songs", ""),
			),
			Default: true,
		}
		if err := survey.AskOne(prompt, &reuse); nil != err {
			return nil, surveyErr(err)
		}
		if !reuse {
			saved = false
		}
	}

	if saved {
		return sel, nil
	}

	if !interactive {
		return nil, errors.New("no saved playlist selection, run the select command first")
	}

	sel, err := promptSelection(ctx, logger, client, conf)
	if nil != err {
		return nil, err
	}

	if err := store.SaveSelection(sel); nil != err {
		return nil, fmt.Errorf("save selection: %w", err)
	}

	return sel, nil
}

var playlistURLRegexp = regexp.MustCompile(`playlist[/:]([A-Za-z0-9]+)`)

// promptSelection walks the interactive picker: the user's own playlists as
// a multi-select, followed-playlist entry by URL or ID, and the liked-songs
// toggle.
func promptSelection(
	ctx context.Context,
	logger zerolog.Logger,
	client *spotify.Client,
	conf *config.Config,
) (*syncer.Selection, error) {
	playlists, err := client.Playlists(ctx)
	if nil != err {
		return nil, fmt.Errorf("list playlists: %w", err)
	}

	var selected []string
	if len(playlists) > 0 {
		options := iterutil.Map(playlists, func(_ int, p spotify.Playlist) string {
			return fmt.Sprintf("%s (%d tracks)", p.Name, p.TotalTracks)
		})

		var picked []core.OptionAnswer
		prompt := &survey.MultiSelect{ //nolint:exhaustruct
			Message: "Select playlists to keep in sync:",
			Options: options,
		}
		if err := survey.AskOne(prompt, &picked); nil != err {
			return nil, surveyErr(err)
		}

		selected = iterutil.Map(picked, func(_ int, a core.OptionAnswer) string {
			return playlists[a.Index].ID
		})
	} else {
		logger.Info().Msg("You have no playlists of your own. Add some by URL below.")
	}

	for {
		var raw string
		prompt := &survey.Input{ //nolint:exhaustruct
			Message: "Add a playlist by URL or ID (leave empty to finish):",
		}
		if err := survey.AskOne(prompt, &raw); nil != err {
			return nil, surveyErr(err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			break
		}

		id, ok := extractPlaylistID(raw)
		if !ok {
			logger.Warn().Str("input", raw).Msg("That does not look like a playlist URL or ID")
			continue
		}

		p, err := client.Playlist(ctx, id)
		if nil != err {
			if ctxErr := context.Cause(ctx); nil != ctxErr {
				return nil, ctxErr
			}

			logger.Warn().Err(err).Str("playlist_id", id).Msg("Could not resolve that playlist")
			continue
		}

		selected = append(selected, p.ID)
		logger.Info().Str("name", p.Name).Int("tracks", p.TotalTracks).Msg("Playlist added")
	}

	liked := conf.Sync.DownloadLiked
	likedPrompt := &survey.Confirm{ //nolint:exhaustruct
		Message: "Include your Liked Songs?",
		Default: liked,
	}
	if err := survey.AskOne(likedPrompt, &liked); nil != err {
		return nil, surveyErr(err)
	}

	return &syncer.Selection{Selected: lo.Uniq(selected), Liked: liked}, nil
}

// extractPlaylistID accepts open.spotify.com playlist URLs, spotify: URIs,
// and bare 22-character IDs.
func extractPlaylistID(raw string) (string, bool) {
	if m := playlistURLRegexp.FindStringSubmatch(raw); nil != m {
		return m[1], true
	}

	if len(raw) == 22 && !strings.ContainsFunc(raw, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		return raw, true
	}

	return "", false
}

func surveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return context.Canceled
	}

	return err
}
