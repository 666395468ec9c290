package lyrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/xeptore/spotisync/cache"
	"github.com/xeptore/spotisync/config"
	"github.com/xeptore/spotisync/httputil"
	"github.com/xeptore/spotisync/ratelimit"
)

const searchAPIFormat = "https://api.genius.com/search?q=%s"

// ResultKind distinguishes "no lyrics exist for this track" from "the lookup
// failed this time". Transient errors are logged by the caller but never
// escalate beyond the one track.
type ResultKind int

const (
	KindFound ResultKind = iota
	KindNotFound
	KindTransientError
)

type Result struct {
	Kind ResultKind
	Text string
	Err  error
}

func found(text string) Result {
	return Result{Kind: KindFound, Text: text, Err: nil}
}

func notFound() Result {
	return Result{Kind: KindNotFound, Text: "", Err: nil}
}

func transient(err error) Result {
	return Result{Kind: KindTransientError, Text: "", Err: err}
}

// errNotFound flows through the retry/memo plumbing to mark a definitive
// no-match, which is memoized, unlike transient failures.
var errNotFound = errors.New("no lyrics found")

// Resolver looks lyrics up on Genius. With no access token configured it is
// a clean no-op: Resolve returns NotFound without any network I/O.
type Resolver struct {
	logger  zerolog.Logger
	conf    config.Lyrics
	memo    *cache.Cache
	limiter *rate.Limiter
}

func NewResolver(logger zerolog.Logger, conf config.Lyrics, memo *cache.Cache) *Resolver {
	return &Resolver{
		logger:  logger,
		conf:    conf,
		memo:    memo,
		limiter: ratelimit.NewPerMinute(conf.RequestsPerMinute),
	}
}

// Resolve returns the lyrics for a track, memoized by track ID across
// collections within this run.
func (r *Resolver) Resolve(ctx context.Context, trackID, title, artist string) Result {
	if !r.conf.Enabled() {
		return notFound()
	}

	item, err := r.memo.Lyrics.Fetch(trackID, cache.DefaultLyricsTTL, func() (string, error) {
		return r.lookup(ctx, title, artist)
	})
	if nil != err {
		if errors.Is(err, errNotFound) {
			return notFound()
		}

		return transient(err)
	}

	return found(item.Value())
}

func (r *Resolver) lookup(ctx context.Context, title, artist string) (string, error) {
	var text string
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(3, retry.NewFibonacci(1*time.Second)),
		func(ctx context.Context) error {
			pageURL, err := r.searchSong(ctx, title, artist)
			if nil != err {
				return err
			}

			raw, err := r.fetchPage(ctx, pageURL)
			if nil != err {
				return err
			}

			text = Normalize(title, raw)
			if text == "" {
				return errNotFound
			}

			return nil
		},
	)
	if nil != err {
		return "", err
	}

	return text, nil
}

func (r *Resolver) searchSong(ctx context.Context, title, artist string) (string, error) {
	if err := r.limiter.Wait(ctx); nil != err {
		return "", err
	}

	query := strings.TrimSpace(title + " " + artist)
	reqURL := fmt.Sprintf(searchAPIFormat, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return "", fmt.Errorf("failed to create search request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.conf.Token)

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(r.conf.Timeouts.Search) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		return "", retry.RetryableError(fmt.Errorf("failed to send search request: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			r.logger.Warn().Err(closeErr).Msg("Failed to close search response body")
		}
	}()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case httputil.IsTransient(code):
		return "", retry.RetryableError(fmt.Errorf("search request failed with status %d", code))
	default:
		return "", fmt.Errorf("search request failed with status %d", code)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return "", retry.RetryableError(fmt.Errorf("failed to read search response: %w", err))
	}

	hit := gjson.GetBytes(respBytes, `response.hits.#(type=="song").result.url`)
	if !hit.Exists() || hit.String() == "" {
		return "", errNotFound
	}

	return hit.String(), nil
}

var (
	lyricsContainerRegexp = regexp.MustCompile(`(?s)<div[^>]+data-lyrics-container="true"[^>]*>(.*?)</div>`)
	lineBreakRegexp       = regexp.MustCompile(`<br\s*/?>`)
	htmlTagRegexp         = regexp.MustCompile(`<[^>]+>`)
)

func (r *Resolver) fetchPage(ctx context.Context, pageURL string) (string, error) {
	if err := r.limiter.Wait(ctx); nil != err {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if nil != err {
		return "", fmt.Errorf("failed to create lyrics page request: %v", err)
	}
	req.Header.Set("User-Agent", "spotisync/1.0")

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(r.conf.Timeouts.FetchPage) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		return "", retry.RetryableError(fmt.Errorf("failed to fetch lyrics page: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			r.logger.Warn().Err(closeErr).Msg("Failed to close lyrics page response body")
		}
	}()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case code == http.StatusNotFound:
		return "", errNotFound
	case httputil.IsTransient(code):
		return "", retry.RetryableError(fmt.Errorf("lyrics page request failed with status %d", code))
	default:
		return "", fmt.Errorf("lyrics page request failed with status %d", code)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return "", retry.RetryableError(fmt.Errorf("failed to read lyrics page: %w", err))
	}

	return extractFromHTML(string(respBytes)), nil
}

func extractFromHTML(page string) string {
	matches := lyricsContainerRegexp.FindAllStringSubmatch(page, -1)
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range matches {
		chunk := lineBreakRegexp.ReplaceAllString(m[1], "\n")
		chunk = htmlTagRegexp.ReplaceAllString(chunk, "")
		b.WriteString(chunk)
		b.WriteString("\n")
	}

	return b.String()
}
