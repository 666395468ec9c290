package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

const (
	stateFileName     = ".sync_state.json"
	songMapFileName   = "song_mapping.json"
	selectionFileName = "playlist_config.json"
)

// Selection is the persisted collection-selection configuration produced by
// the interactive picker and consumed by the sync session.
type Selection struct {
	Selected []string `json:"selected"`
	Liked    bool     `json:"liked"`
}

// Store persists the resumable sync state: which track IDs have been fully
// processed per collection, the global filename-to-track-ID song map, and
// the saved selection. A single lock guards every load-modify-save sequence
// so concurrent per-track updates never lose each other's writes. Corrupt or
// missing files are treated as empty state; only write failures propagate,
// since durability is a precondition for safe resume.
type Store struct {
	mux sync.Mutex
	dir string
}

func NewStore(dir string) *Store {
	return &Store{
		mux: sync.Mutex{},
		dir: dir,
	}
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *Store) songMapPath() string {
	return filepath.Join(s.dir, songMapFileName)
}

func (s *Store) selectionPath() string {
	return filepath.Join(s.dir, selectionFileName)
}

// LoadState returns the persisted collection-key to processed-track-IDs
// mapping. A missing or unreadable file yields an empty mapping.
func (s *Store) LoadState() map[string][]string {
	s.mux.Lock()
	defer s.mux.Unlock()

	return s.loadState()
}

func (s *Store) loadState() map[string][]string {
	state := make(map[string][]string)

	data, err := os.ReadFile(s.statePath())
	if nil != err {
		return state
	}

	if err := json.Unmarshal(data, &state); nil != err {
		return make(map[string][]string)
	}

	return state
}

// MergeState applies key overwrites from partial onto the on-disk state
// under the lock, so concurrently persisted keys from other collections are
// never dropped.
func (s *Store) MergeState(partial map[string][]string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	state := s.loadState()
	for k, v := range partial {
		state[k] = v
	}

	if err := s.writeJSON(s.statePath(), state); nil != err {
		return fmt.Errorf("failed to persist sync state: %w", err)
	}

	return nil
}

// ClearState removes the state file entirely, signalling that no resume is
// needed. A missing file is not an error.
func (s *Store) ClearState() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if err := os.Remove(s.statePath()); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove sync state file: %v", err)
	}

	return nil
}

// LoadSongMap returns the persisted filename to track ID index. A missing or
// unreadable file yields an empty mapping.
func (s *Store) LoadSongMap() map[string]string {
	s.mux.Lock()
	defer s.mux.Unlock()

	return s.loadSongMap()
}

func (s *Store) loadSongMap() map[string]string {
	songMap := make(map[string]string)

	data, err := os.ReadFile(s.songMapPath())
	if nil != err {
		return songMap
	}

	if err := json.Unmarshal(data, &songMap); nil != err {
		return make(map[string]string)
	}

	return songMap
}

// SetSong records that a local filename now holds the given track.
func (s *Store) SetSong(filename, trackID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	songMap := s.loadSongMap()
	songMap[filename] = trackID

	if err := s.writeJSON(s.songMapPath(), songMap); nil != err {
		return fmt.Errorf("failed to persist song map: %w", err)
	}

	return nil
}

// DeleteSongs removes song map entries for files deleted by cleanup.
func (s *Store) DeleteSongs(filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	songMap := s.loadSongMap()
	for _, name := range filenames {
		delete(songMap, name)
	}

	if err := s.writeJSON(s.songMapPath(), songMap); nil != err {
		return fmt.Errorf("failed to persist song map: %w", err)
	}

	return nil
}

// LoadSelection returns the saved selection, reporting whether one exists.
func (s *Store) LoadSelection() (*Selection, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	data, err := os.ReadFile(s.selectionPath())
	if nil != err {
		return nil, false
	}

	var sel Selection
	if err := json.Unmarshal(data, &sel); nil != err {
		return nil, false
	}

	return &sel, true
}

func (s *Store) SaveSelection(sel *Selection) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if err := s.writeJSON(s.selectionPath(), sel); nil != err {
		return fmt.Errorf("failed to persist selection: %w", err)
	}

	return nil
}

func (s *Store) writeJSON(path string, v any) (err error) {
	data, err := json.Marshal(v)
	if nil != err {
		return fmt.Errorf("failed to encode: %v", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o600)
	if nil != err {
		return fmt.Errorf("failed to open for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close: %v", closeErr))
		}
	}()

	if _, err := f.Write(data); nil != err {
		return fmt.Errorf("failed to write: %v", err)
	}

	return nil
}
