package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/rs/zerolog"

	"github.com/xeptore/spotisync/spotify"
)

// Directory resolves the selection into concrete collections: playlist
// listings for names and track counts, and the liked-songs total.
type Directory interface {
	Playlists(ctx context.Context) ([]spotify.Playlist, error)
	Playlist(ctx context.Context, id string) (*spotify.Playlist, error)
	LikedCount(ctx context.Context) (int, error)
}

// Session drives one full sync run over the selected collections. Collections
// are processed sequentially; concurrency lives inside each collection's
// fetch dispatch.
type Session struct {
	logger zerolog.Logger
	dir    Directory
	syncer *Syncer
	store  *Store
}

func NewSession(logger zerolog.Logger, dir Directory, syncer *Syncer, store *Store) *Session {
	return &Session{
		logger: logger,
		dir:    dir,
		syncer: syncer,
		store:  store,
	}
}

// Run synchronizes every selected collection. On an uninterrupted full pass
// the resume state is cleared; on halt or cancellation it is preserved so
// the next run picks up where this one stopped.
func (s *Session) Run(ctx context.Context, sel *Selection) error {
	collections, total, err := s.buildCollections(ctx, sel)
	if nil != err {
		return err
	}
	if len(collections) == 0 {
		s.logger.Info().Msg("Nothing selected to synchronize")
		return nil
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(os.Stderr)
	pw.SetUpdateFrequency(250 * time.Millisecond)
	go pw.Render()
	defer pw.Stop()

	tracker := &progress.Tracker{ //nolint:exhaustruct
		Message: "Synchronizing tracks",
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)
	s.syncer.OnTrackDone = func() { tracker.Increment(1) }

	for _, col := range collections {
		if err := ctx.Err(); nil != err {
			return err
		}

		if _, err := s.syncer.SyncCollection(ctx, col); nil != err {
			if errors.Is(err, ErrToolMissing) {
				return fmt.Errorf("fetch tool is unavailable, stopping the session: %w", err)
			}

			return err
		}
	}

	tracker.MarkAsDone()

	if err := s.store.ClearState(); nil != err {
		return err
	}
	s.logger.Info().Msg("All selected collections synchronized")

	return nil
}

// buildCollections resolves selected playlist IDs against the user's own
// playlist listing, falling back to a direct playlist fetch for followed or
// by-URL playlists. The liked-songs collection, when selected, always goes
// last. The returned total is the remote-reported track count across all
// collections, used only for progress display.
func (s *Session) buildCollections(ctx context.Context, sel *Selection) ([]Collection, int, error) {
	owned, err := s.dir.Playlists(ctx)
	if nil != err {
		return nil, 0, fmt.Errorf("failed to list playlists: %w", err)
	}

	byID := make(map[string]spotify.Playlist, len(owned))
	for _, p := range owned {
		byID[p.ID] = p
	}

	var (
		collections []Collection
		total       int
	)
	for _, id := range sel.Selected {
		p, ok := byID[id]
		if !ok {
			fetched, err := s.dir.Playlist(ctx, id)
			if nil != err {
				if ctxErr := context.Cause(ctx); nil != ctxErr {
					return nil, 0, ctxErr
				}

				s.logger.Warn().
					Err(err).
					Str("playlist_id", id).
					Msg("Failed to resolve selected playlist. Skipping it this run.")
				continue
			}
			p = *fetched
		}

		collections = append(collections, Collection{Liked: false, ID: p.ID, Name: p.Name})
		total += p.TotalTracks
	}

	if sel.Liked {
		count, err := s.dir.LikedCount(ctx)
		if nil != err {
			if ctxErr := context.Cause(ctx); nil != ctxErr {
				return nil, 0, ctxErr
			}

			s.logger.Warn().Err(err).Msg("Failed to count liked tracks. Progress totals may be off.")
			count = 0
		}

		collections = append(collections, Collection{Liked: true, ID: "", Name: ""})
		total += count
	}

	return collections, total, nil
}
