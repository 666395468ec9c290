package spotify

// Track is an immutable snapshot of a remote catalog track, fetched fresh on
// every sync run. Tracks with no ID, local-only tracks, and unplayable
// tracks never make it into one of these.
type Track struct {
	ID      string
	Name    string
	Artists []string
}

// PrimaryArtist returns the first listed artist, or an empty string for the
// rare catalog entry with no artist attribution.
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}

	return t.Artists[0]
}

// Playlist is the listing-level view of a user playlist. TotalTracks is the
// remote-reported count, used only for selection display and progress
// totals. The per-collection diff re-derives its own truth.
type Playlist struct {
	ID          string
	Name        string
	TotalTracks int
}
