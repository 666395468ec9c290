package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/xeptore/spotisync/ratelimit"
)

const trackURLFormat = "https://open.spotify.com/track/%s"

// Fetch failure classification. ErrToolMissing is systemic: no further track
// can ever succeed, so the whole session halts on it. The other two are
// isolated to the one track.
var (
	ErrToolMissing   = errors.New("fetch tool executable not found")
	ErrToolFailed    = errors.New("fetch tool exited with an error")
	ErrTrackNotFound = errors.New("fetch tool produced no audio file")
)

// Fetcher invokes the external download tool for single tracks. Each
// invocation is an isolated subprocess writing into the staging cache;
// invocations may run concurrently up to the worker-pool limit.
type Fetcher struct {
	tool     string
	cacheDir CacheDir
	timeout  time.Duration
}

func NewFetcher(tool string, cacheDir CacheDir, timeout time.Duration) *Fetcher {
	return &Fetcher{
		tool:     tool,
		cacheDir: cacheDir,
		timeout:  timeout,
	}
}

// Fetch downloads one track into the cache directory and returns the
// produced file's path. The subprocess is bounded by the configured timeout
// so a hung tool cannot stall its worker slot indefinitely.
func (f *Fetcher) Fetch(ctx context.Context, trackID string) (string, error) {
	if _, err := exec.LookPath(f.tool); nil != err {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	select {
	case <-time.After(ratelimit.FetchSleep()):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(
		ctx,
		f.tool,
		"download",
		fmt.Sprintf(trackURLFormat, trackID),
		"--output",
		f.cacheDir.OutputTemplate(trackID),
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); nil != err {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
		}

		if ctxErr := ctx.Err(); nil != ctxErr {
			return "", fmt.Errorf("%w: %v", ErrToolFailed, ctxErr)
		}

		return "", fmt.Errorf("%w: %v: %s", ErrToolFailed, err, lastStderrLine(&stderr))
	}

	path, ok, err := f.cacheDir.Lookup(trackID)
	if nil != err {
		return "", fmt.Errorf("failed to look up fetched file: %v", err)
	}
	if !ok {
		return "", ErrTrackNotFound
	}

	return path, nil
}

func lastStderrLine(b *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) == 0 {
		return ""
	}

	return strings.TrimSpace(lines[len(lines)-1])
}
