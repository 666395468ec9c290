package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bogem/id3v2/v2"
)

// provenanceDescription is the TXXX frame description carrying the remote
// track ID. It is the identity contract the diff and cleanup phases rely on.
const provenanceDescription = "SpotifyID"

type tagOrigin int

const (
	tagExisting tagOrigin = iota
	tagCreated
)

// openOrCreateTag opens a file's tag container, falling back to a fresh
// container (keeping the audio payload) when the existing tag data is
// unreadable.
func openOrCreateTag(path string) (*id3v2.Tag, tagOrigin, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil == err {
		return tag, tagExisting, nil
	}

	tag, err = id3v2.Open(path, id3v2.Options{Parse: false}) //nolint:exhaustruct
	if nil != err {
		return nil, tagCreated, fmt.Errorf("failed to open tag container: %v", err)
	}

	return tag, tagCreated, nil
}

// EmbedProvenance writes the remote track ID into the file's tag container.
// Idempotent: any prior provenance frame is replaced, not duplicated. The
// save is atomic from the caller's perspective: on failure the original file
// is left byte-unchanged.
func EmbedProvenance(path, trackID string) error {
	return withTag(path, func(tag *id3v2.Tag) {
		frames := tag.GetFrames(tag.CommonID("User defined text information frame"))
		tag.DeleteFrames(tag.CommonID("User defined text information frame"))
		for _, frame := range frames {
			udt, ok := frame.(id3v2.UserDefinedTextFrame)
			if !ok || udt.Description == provenanceDescription {
				continue
			}
			tag.AddUserDefinedTextFrame(udt)
		}
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: provenanceDescription,
			Value:       trackID,
		})
	})
}

// EmbedLyrics writes unsynchronised lyrics into the file's tag container,
// clearing any previously embedded lyrics first.
func EmbedLyrics(path, text string) error {
	return withTag(path, func(tag *id3v2.Tag) {
		tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "eng",
			ContentDescriptor: "Lyrics",
			Lyrics:            text,
		})
	})
}

// ReadProvenance reads the embedded remote track ID back out of a file,
// reporting whether one is present.
func ReadProvenance(path string) (string, bool) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		return "", false
	}
	defer func() {
		_ = tag.Close()
	}()

	for _, frame := range tag.GetFrames(tag.CommonID("User defined text information frame")) {
		if udt, ok := frame.(id3v2.UserDefinedTextFrame); ok &&
			udt.Description == provenanceDescription {
			return udt.Value, true
		}
	}

	return "", false
}

// withTag applies mutate to the file's tag container via a same-directory
// scratch copy renamed over the original on success, so a failed save never
// corrupts the audio payload.
func withTag(path string, mutate func(tag *id3v2.Tag)) (err error) {
	scratch := scratchPath(path)
	if err := copyFile(path, scratch); nil != err {
		return fmt.Errorf("failed to stage file for tagging: %v", err)
	}
	defer func() {
		if nil != err {
			if removeErr := os.Remove(scratch); nil != removeErr &&
				!errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove scratch file: %v", removeErr))
			}
		}
	}()

	tag, _, err := openOrCreateTag(scratch)
	if nil != err {
		return err
	}

	mutate(tag)

	if err := tag.Save(); nil != err {
		_ = tag.Close()
		return fmt.Errorf("failed to save tag container: %v", err)
	}

	if err := tag.Close(); nil != err {
		return fmt.Errorf("failed to close tag container: %v", err)
	}

	if err := os.Rename(scratch, path); nil != err {
		return fmt.Errorf("failed to replace file with tagged copy: %v", err)
	}

	return nil
}

func scratchPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tagtmp")
}
