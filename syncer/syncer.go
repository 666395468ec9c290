package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/spotisync/lyrics"
	"github.com/xeptore/spotisync/spotify"
	"github.com/xeptore/spotisync/unit"
)

// Catalog lists the current remote membership of collections. Listings are
// taken fresh at the start of every collection sync and never cached across
// runs.
type Catalog interface {
	PlaylistTracks(ctx context.Context, id string) ([]spotify.Track, error)
	LikedTracks(ctx context.Context) ([]spotify.Track, error)
}

// TrackFetcher produces a local audio file for a track ID, returning the
// produced file's path inside the staging cache.
type TrackFetcher interface {
	Fetch(ctx context.Context, trackID string) (string, error)
}

// LyricsResolver looks up lyrics text for a track. Lookups are best-effort;
// no resolver outcome ever fails a track.
type LyricsResolver interface {
	Resolve(ctx context.Context, trackID, title, artist string) lyrics.Result
}

// CollectionResult summarizes one collection sync for reporting.
type CollectionResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Deleted   int
}

// Syncer reconciles local collection folders against remote membership. One
// Syncer serves the whole session; per-collection work is dispatched through
// SyncCollection.
type Syncer struct {
	logger   zerolog.Logger
	catalog  Catalog
	fetcher  TrackFetcher
	lyrics   LyricsResolver
	store    *Store
	library  LibraryDir
	cache    CacheDir
	parallel int

	// OnTrackDone, when set, is called once per finished track unit
	// regardless of outcome. Used to drive progress reporting.
	OnTrackDone func()
}

func New(
	logger zerolog.Logger,
	catalog Catalog,
	fetcher TrackFetcher,
	resolver LyricsResolver,
	store *Store,
	library LibraryDir,
	cache CacheDir,
	parallel int,
) *Syncer {
	if parallel < 1 {
		parallel = 1
	}

	return &Syncer{
		logger:      logger,
		catalog:     catalog,
		fetcher:     fetcher,
		lyrics:      resolver,
		store:       store,
		library:     library,
		cache:       cache,
		parallel:    parallel,
		OnTrackDone: nil,
	}
}

// trackUnit is one pending piece of work: a remote member track with no
// verified local counterpart.
type trackUnit struct {
	track    spotify.Track
	destPath string
	songKey  string
}

// SyncCollection runs the full reconciliation for one collection: membership
// listing, diff, bounded-concurrency fetch dispatch, state commit, cleanup.
// The processed-track state for the collection is persisted even when the
// run is interrupted, so the next run resumes instead of restarting.
func (s *Syncer) SyncCollection(ctx context.Context, col Collection) (CollectionResult, error) {
	logger := s.logger.With().Str("collection", col.DisplayName()).Logger()

	var res CollectionResult

	remote, membershipOK, err := s.listMembers(ctx, col, logger)
	if nil != err {
		return res, err
	}

	dir := s.library.Collection(col)
	if err := dir.Ensure(); nil != err {
		return res, fmt.Errorf("failed to prepare folder for %q: %w", col.DisplayName(), err)
	}

	pending, processed, skipped, err := s.diff(col, dir, remote, logger)
	if nil != err {
		return res, err
	}
	res.Skipped = skipped
	res.Attempted = len(pending)
	for range skipped {
		s.trackDone()
	}

	failed, runErr := s.dispatch(ctx, pending, &processed, logger)
	res.Failed = failed
	res.Succeeded = res.Attempted - failed

	if err := s.store.MergeState(map[string][]string{col.Key(): processed}); nil != err {
		return res, errors.Join(runErr, err)
	}

	if nil != runErr {
		return res, runErr
	}

	// A degraded (empty-on-error) membership listing must not be mistaken
	// for an emptied playlist, so cleanup only runs on a real listing.
	if membershipOK {
		deleted, err := s.cleanup(col, dir, remote, logger)
		if nil != err {
			return res, err
		}
		res.Deleted = deleted
	}

	logger.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("deleted", res.Deleted).
		Msg("Collection synchronized")

	return res, nil
}

// listMembers fetches the remote membership. API failures degrade to an
// empty listing so one unreachable playlist never aborts the session, but
// cancellation still propagates.
func (s *Syncer) listMembers(
	ctx context.Context,
	col Collection,
	logger zerolog.Logger,
) ([]spotify.Track, bool, error) {
	var (
		remote []spotify.Track
		err    error
	)
	if col.Liked {
		remote, err = s.catalog.LikedTracks(ctx)
	} else {
		remote, err = s.catalog.PlaylistTracks(ctx, col.ID)
	}
	if nil != err {
		if ctxErr := context.Cause(ctx); nil != ctxErr {
			return nil, false, ctxErr
		}

		logger.Warn().Err(err).Msg("Failed to list collection tracks. Skipping collection this run.")
		return nil, false, nil
	}

	return remote, true, nil
}

// diff splits remote members into already-satisfied tracks and pending work.
// A track is satisfied only when its destination file exists and its
// identity is verified, first against the song map and then against the
// file's embedded provenance. A stale song map entry is repaired on a
// provenance match.
func (s *Syncer) diff(
	col Collection,
	dir CollectionDir,
	remote []spotify.Track,
	logger zerolog.Logger,
) (pending []trackUnit, processed []string, skipped int, err error) {
	songMap := s.store.LoadSongMap()

	for _, track := range remote {
		destName := SanitizeName(track.Name) + ".mp3"
		unit := trackUnit{
			track:    track,
			destPath: dir.File(destName),
			songKey:  path.Join(col.FolderName(), destName),
		}

		exists, err := fileExists(unit.destPath)
		if nil != err {
			return nil, nil, 0, err
		}
		if !exists {
			pending = append(pending, unit)
			continue
		}

		if songMap[unit.songKey] == track.ID {
			processed = append(processed, track.ID)
			skipped++
			continue
		}

		if id, ok := ReadProvenance(unit.destPath); ok && id == track.ID {
			if err := s.store.SetSong(unit.songKey, track.ID); nil != err {
				return nil, nil, 0, err
			}
			logger.Debug().Str("file", destName).Msg("Repaired song map entry from embedded provenance")
			processed = append(processed, track.ID)
			skipped++
			continue
		}

		// Same sanitized title, different (or unknown) identity. The file
		// is replaced by a fresh fetch of the current member.
		pending = append(pending, unit)
	}

	return pending, processed, skipped, nil
}

// dispatch runs pending units through a bounded worker pool. Isolated track
// failures are logged and counted; only systemic failures (missing tool,
// state write failure, cancellation) cancel the pool and return an error.
func (s *Syncer) dispatch(
	ctx context.Context,
	pending []trackUnit,
	processed *[]string,
	logger zerolog.Logger,
) (int, error) {
	var (
		mux    sync.Mutex
		failed int
	)

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(s.parallel)
	for _, unit := range pending {
		wg.Go(func() error {
			if err := wgCtx.Err(); nil != err {
				return err
			}

			if err := s.processTrack(wgCtx, unit, logger); nil != err {
				if isSystemic(err) {
					return err
				}

				logger.Error().
					Err(err).
					Str("track_id", unit.track.ID).
					Str("title", unit.track.Name).
					Msg("Failed to sync track")
				mux.Lock()
				failed++
				mux.Unlock()
				s.trackDone()
				return nil
			}

			mux.Lock()
			*processed = append(*processed, unit.track.ID)
			mux.Unlock()
			s.trackDone()
			return nil
		})
	}

	return failed, wg.Wait()
}

// isSystemic reports whether a track failure poisons the whole run rather
// than just the one track.
func isSystemic(err error) bool {
	return errors.Is(err, ErrToolMissing) ||
		errors.Is(err, ErrStateWrite) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrStateWrite marks a failed durability write. Losing state writes breaks
// resume guarantees, so the session halts instead of silently continuing.
var ErrStateWrite = errors.New("failed to persist sync state")

func (s *Syncer) processTrack(ctx context.Context, u trackUnit, logger zerolog.Logger) error {
	track := u.track

	srcPath, hit, err := s.cache.Lookup(track.ID)
	if nil != err {
		return err
	}
	if hit {
		logger.Debug().Str("track_id", track.ID).Msg("Reusing cached audio file")
	} else {
		srcPath, err = s.fetcher.Fetch(ctx, track.ID)
		if nil != err {
			return err
		}
	}

	if err := copyFile(srcPath, u.destPath); nil != err {
		return fmt.Errorf("failed to place track file: %w", err)
	}

	if err := EmbedProvenance(u.destPath, track.ID); nil != err {
		return fmt.Errorf("failed to embed track identity: %w", err)
	}

	switch result := s.lyrics.Resolve(ctx, track.ID, track.Name, track.PrimaryArtist()); result.Kind {
	case lyrics.KindFound:
		if err := EmbedLyrics(u.destPath, result.Text); nil != err {
			logger.Warn().
				Err(err).
				Str("track_id", track.ID).
				Msg("Failed to embed lyrics. Keeping track without them.")
		}
	case lyrics.KindNotFound:
		logger.Debug().Str("track_id", track.ID).Msg("No lyrics found for track")
	case lyrics.KindTransientError:
		logger.Warn().
			Err(result.Err).
			Str("track_id", track.ID).
			Msg("Lyrics lookup failed. Keeping track without them.")
	}

	if err := s.store.SetSong(u.songKey, track.ID); nil != err {
		return fmt.Errorf("%w: %v", ErrStateWrite, err)
	}

	if info, err := os.Stat(u.destPath); nil == err {
		logger.Info().
			Str("title", track.Name).
			Str("artist", track.PrimaryArtist()).
			Float64("size_mb", float64(info.Size())/unit.Megabyte).
			Msg("Track synchronized")
	}

	return nil
}

// cleanup removes local files whose identity is no longer part of the remote
// membership, along with files of unknown identity. Song map entries for
// removed files are dropped in the same pass.
func (s *Syncer) cleanup(
	col Collection,
	dir CollectionDir,
	remote []spotify.Track,
	logger zerolog.Logger,
) (int, error) {
	names, err := dir.List()
	if nil != err {
		return 0, err
	}

	remoteSet := make(map[string]struct{}, len(remote))
	for _, track := range remote {
		remoteSet[track.ID] = struct{}{}
	}

	songMap := s.store.LoadSongMap()

	var removedKeys []string
	for _, name := range names {
		songKey := path.Join(col.FolderName(), name)

		id, known := songMap[songKey]
		if !known {
			id, known = ReadProvenance(dir.File(name))
		}

		if known {
			if _, member := remoteSet[id]; member {
				continue
			}
		}

		if err := os.Remove(dir.File(name)); nil != err {
			return len(removedKeys), fmt.Errorf("failed to remove stale file %q: %v", name, err)
		}
		removedKeys = append(removedKeys, songKey)
		logger.Info().Str("file", name).Msg("Removed track no longer in collection")
	}

	if err := s.store.DeleteSongs(removedKeys); nil != err {
		return len(removedKeys), fmt.Errorf("%w: %v", ErrStateWrite, err)
	}

	return len(removedKeys), nil
}

func (s *Syncer) trackDone() {
	if nil != s.OnTrackDone {
		s.OnTrackDone()
	}
}
