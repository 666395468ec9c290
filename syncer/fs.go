package syncer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Collection is the unit of synchronization: either a named playlist or the
// synthetic liked-songs set. Each maps 1:1 to a local folder.
type Collection struct {
	Liked bool
	ID    string
	Name  string
}

// Key derives the stable state-store key for this collection.
func (c Collection) Key() string {
	if c.Liked {
		return "playlist_liked"
	}

	return "playlist_" + c.ID
}

// FolderName derives the local folder name. Playlist folders carry the
// playlist ID so two playlists with the same display name stay distinct.
func (c Collection) FolderName() string {
	if c.Liked {
		return "Liked_Songs"
	}

	return fmt.Sprintf("%s [%s]", SanitizeName(c.Name), c.ID)
}

func (c Collection) DisplayName() string {
	if c.Liked {
		return "Liked Songs"
	}

	return c.Name
}

type LibraryDir string

func LibraryDirFrom(d string) LibraryDir {
	return LibraryDir(d)
}

func (d LibraryDir) Collection(c Collection) CollectionDir {
	return CollectionDir{Path: filepath.Join(string(d), c.FolderName())}
}

type CollectionDir struct {
	Path string
}

func (d CollectionDir) Ensure() error {
	if err := os.MkdirAll(d.Path, 0o755); nil != err {
		return fmt.Errorf("failed to create collection folder: %v", err)
	}

	return nil
}

func (d CollectionDir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// List returns the names of the regular files currently in the folder.
func (d CollectionDir) List() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read collection folder: %v", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat file: %v", err)
	}

	return true, nil
}

// copyFile copies src to dst, removing a partially written dst on failure so
// a later run never mistakes it for a completed placement.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if nil != err {
		return fmt.Errorf("failed to open source file: %v", err)
	}
	defer func() {
		if closeErr := in.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close source file: %v", closeErr))
		}
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o644)
	if nil != err {
		return fmt.Errorf("failed to open destination file: %v", err)
	}
	defer func() {
		if nil != err {
			if removeErr := os.Remove(dst); nil != removeErr &&
				!errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete destination file: %v", removeErr))
			}
		} else if closeErr := out.Close(); nil != closeErr {
			err = fmt.Errorf("failed to close destination file: %v", closeErr)
		}
	}()

	if _, err := io.Copy(out, in); nil != err {
		return fmt.Errorf("failed to copy file contents: %v", err)
	}

	if err := out.Sync(); nil != err {
		return fmt.Errorf("failed to sync destination file: %v", err)
	}

	return nil
}
