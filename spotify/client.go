package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

const pageSize = 50

// Client wraps the Spotify Web API with the listing operations the sync
// engine consumes. Every listing walks the API's pagination to the end and
// honors context cancellation between pages, so an interrupted run stops at
// a page boundary instead of mid-collection.
type Client struct {
	api *spotify.Client
}

func newClient(api *spotify.Client) *Client {
	return &Client{api: api}
}

// Playlists lists all playlists of the current user.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(pageSize))
	if nil != err {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	var playlists []Playlist
	for {
		for _, p := range page.Playlists {
			playlists = append(playlists, Playlist{
				ID:          p.ID.String(),
				Name:        p.Name,
				TotalTracks: int(p.Tracks.Total),
			})
		}

		if err := ctx.Err(); nil != err {
			return nil, err
		}

		if err := c.api.NextPage(ctx, page); nil != err {
			if errors.Is(err, spotify.ErrNoMorePages) {
				return playlists, nil
			}

			return nil, fmt.Errorf("failed to fetch next playlists page: %w", err)
		}
	}
}

// Playlist fetches a single playlist by ID, for playlists added by URL that
// do not appear in the user's own playlist listing.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	p, err := c.api.GetPlaylist(ctx, spotify.ID(id))
	if nil != err {
		return nil, fmt.Errorf("failed to get playlist %s: %w", id, err)
	}

	return &Playlist{
		ID:          p.ID.String(),
		Name:        p.Name,
		TotalTracks: int(p.Tracks.Total),
	}, nil
}

// PlaylistTracks lists the current members of a playlist, already filtered
// down to tracks the sync engine should consider: catalog tracks with an ID
// that are not local files and not marked unplayable.
func (c *Client) PlaylistTracks(ctx context.Context, id string) ([]Track, error) {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(id), spotify.Limit(pageSize))
	if nil != err {
		return nil, fmt.Errorf("failed to list playlist %s tracks: %w", id, err)
	}

	var tracks []Track
	for {
		for _, item := range page.Items {
			if item.IsLocal || nil == item.Track.Track {
				continue
			}
			if t, ok := convertTrack(*item.Track.Track); ok {
				tracks = append(tracks, t)
			}
		}

		if err := ctx.Err(); nil != err {
			return nil, err
		}

		if err := c.api.NextPage(ctx, page); nil != err {
			if errors.Is(err, spotify.ErrNoMorePages) {
				return tracks, nil
			}

			return nil, fmt.Errorf("failed to fetch next playlist tracks page: %w", err)
		}
	}
}

// LikedTracks lists the current user's saved tracks with the same membership
// filtering as PlaylistTracks.
func (c *Client) LikedTracks(ctx context.Context) ([]Track, error) {
	page, err := c.api.CurrentUsersTracks(ctx, spotify.Limit(pageSize))
	if nil != err {
		return nil, fmt.Errorf("failed to list liked tracks: %w", err)
	}

	var tracks []Track
	for {
		for _, saved := range page.Tracks {
			if t, ok := convertTrack(saved.FullTrack); ok {
				tracks = append(tracks, t)
			}
		}

		if err := ctx.Err(); nil != err {
			return nil, err
		}

		if err := c.api.NextPage(ctx, page); nil != err {
			if errors.Is(err, spotify.ErrNoMorePages) {
				return tracks, nil
			}

			return nil, fmt.Errorf("failed to fetch next liked tracks page: %w", err)
		}
	}
}

// LikedCount returns the remote-reported number of saved tracks without
// walking the full listing, for progress totals only.
func (c *Client) LikedCount(ctx context.Context) (int, error) {
	page, err := c.api.CurrentUsersTracks(ctx, spotify.Limit(1))
	if nil != err {
		return 0, fmt.Errorf("failed to count liked tracks: %w", err)
	}

	return int(page.Total), nil
}

func convertTrack(t spotify.FullTrack) (Track, bool) {
	if t.ID == "" {
		return Track{}, false //nolint:exhaustruct
	}

	// Absent is_playable means playable.
	if nil != t.IsPlayable && !*t.IsPlayable {
		return Track{}, false //nolint:exhaustruct
	}

	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return Track{
		ID:      t.ID.String(),
		Name:    t.Name,
		Artists: artists,
	}, true
}
