package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// knownAudioExts are probed first on lookup; anything else the fetch tool
// produces is admitted only after content sniffing confirms an audio file.
var knownAudioExts = []string{"mp3", "ogg", "m4a"}

// CacheDir is the content-addressed staging directory: files are named by
// remote track ID plus whatever extension the fetch tool chose. Storage is
// implicit (the tool writes straight into the directory) and there is no
// eviction.
type CacheDir string

func CacheDirFrom(d string) CacheDir {
	return CacheDir(d)
}

func (d CacheDir) Ensure() error {
	if err := os.MkdirAll(string(d), 0o755); nil != err {
		return fmt.Errorf("failed to create cache directory: %v", err)
	}

	return nil
}

// OutputTemplate is the fetch tool's --output argument for a track. The
// {output-ext} placeholder is substituted by the tool itself.
func (d CacheDir) OutputTemplate(trackID string) string {
	return filepath.Join(string(d), trackID+".{output-ext}")
}

// Lookup returns the cached audio file for a track ID, if one exists.
func (d CacheDir) Lookup(trackID string) (string, bool, error) {
	for _, ext := range knownAudioExts {
		path := filepath.Join(string(d), trackID+"."+ext)
		if exists, err := fileExists(path); nil != err {
			return "", false, err
		} else if exists {
			return path, true, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(string(d), trackID+".*"))
	if nil != err {
		return "", false, fmt.Errorf("failed to glob cache directory: %v", err)
	}

	for _, path := range matches {
		mtype, err := mimetype.DetectFile(path)
		if nil != err {
			continue
		}
		// Skips the tool's partial and metadata leftovers.
		if strings.HasPrefix(mtype.String(), "audio/") {
			return path, true, nil
		}
	}

	return "", false, nil
}
