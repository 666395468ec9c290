package spotify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/xeptore/spotisync/config"
	"github.com/xeptore/spotisync/result"
)

const callbackTimeout = 2 * time.Minute

var (
	ErrAuthTimeout   = errors.New("authentication timed out waiting for callback")
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// Authenticator drives the Spotify OAuth2 authorization code flow with a
// local callback server and a persistent token cache. A cached token is
// reused (and silently refreshed) whenever it still works.
type Authenticator struct {
	auth      *spotifyauth.Authenticator
	conf      config.Spotify
	tokenFile string
}

func NewAuthenticator(conf config.Spotify) (*Authenticator, error) {
	tokenFile := conf.TokenFile
	if tokenFile == "" {
		configDir, err := os.UserConfigDir()
		if nil != err {
			return nil, fmt.Errorf("failed to resolve user config dir: %v", err)
		}
		tokenFile = filepath.Join(configDir, "spotisync", "token.json")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(conf.ClientID),
		spotifyauth.WithClientSecret(conf.ClientSecret),
		spotifyauth.WithRedirectURL(conf.RedirectURI),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistReadCollaborative,
			spotifyauth.ScopeUserLibraryRead,
		),
	)

	return &Authenticator{
		auth:      auth,
		conf:      conf,
		tokenFile: tokenFile,
	}, nil
}

// Authenticate returns an authenticated catalog client, running the full
// browser flow only when no usable cached token exists.
func (a *Authenticator) Authenticate(ctx context.Context, logger zerolog.Logger) (*Client, error) {
	token, err := a.loadToken()
	if nil != err {
		return nil, fmt.Errorf("failed to load cached token: %v", err)
	}

	if nil != token {
		api := spotifyapi.New(a.auth.Client(ctx, token), spotifyapi.WithRetry(true))
		if _, err := api.CurrentUser(ctx); nil == err {
			if newToken, tokenErr := api.Token(); nil == tokenErr &&
				newToken.AccessToken != token.AccessToken {
				if err := a.saveToken(newToken); nil != err {
					logger.Warn().Err(err).Msg("Failed to persist refreshed token")
				}
			}

			return newClient(api), nil
		}

		logger.Warn().Msg("Cached token no longer works, starting new authentication")
	}

	api, err := a.runFlow(ctx, logger)
	if nil != err {
		return nil, err
	}

	return newClient(api), nil
}

// Login runs the browser flow unconditionally and caches the token.
func (a *Authenticator) Login(ctx context.Context, logger zerolog.Logger) error {
	if _, err := a.runFlow(ctx, logger); nil != err {
		return err
	}

	return nil
}

func (a *Authenticator) runFlow(ctx context.Context, logger zerolog.Logger) (*spotifyapi.Client, error) {
	state, err := generateState()
	if nil != err {
		return nil, fmt.Errorf("failed to generate oauth state: %v", err)
	}

	redirect, err := url.Parse(a.conf.RedirectURI)
	if nil != err {
		return nil, fmt.Errorf("failed to parse redirect URI: %v", err)
	}

	var (
		resCh = make(chan result.Of[oauth2.Token], 1)
		mux   = http.NewServeMux()
	)
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		a.handleCallback(w, r, state, resCh)
	})

	server := &http.Server{ //nolint:exhaustruct
		Addr:              redirect.Host,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); nil != err && !errors.Is(err, http.ErrServerClosed) {
			resCh <- result.Err[oauth2.Token](fmt.Errorf("callback server error: %v", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); nil != err {
			logger.Warn().Err(err).Msg("Failed to shut down callback server")
		}
	}()

	logger.Info().Str("url", a.auth.AuthURL(state)).Msg("Open this URL in your browser to authenticate")

	var token *oauth2.Token
	select {
	case res := <-resCh:
		if err := res.Err(); nil != err {
			return nil, err
		}
		token = res.Unwrap()
	case <-time.After(callbackTimeout):
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := a.saveToken(token); nil != err {
		logger.Warn().Err(err).Msg("Failed to cache token")
	}

	return spotifyapi.New(a.auth.Client(ctx, token), spotifyapi.WithRetry(true)), nil
}

func (a *Authenticator) handleCallback(
	w http.ResponseWriter,
	r *http.Request,
	expectedState string,
	resCh chan<- result.Of[oauth2.Token],
) {
	if r.URL.Query().Get("state") != expectedState {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		resCh <- result.Err[oauth2.Token](ErrStateMismatch)
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "Authentication failed: "+errMsg, http.StatusBadRequest)
		resCh <- result.Err[oauth2.Token](fmt.Errorf("spotify auth error: %s", errMsg))
		return
	}

	token, err := a.auth.Token(r.Context(), expectedState, r)
	if nil != err {
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		resCh <- result.Err[oauth2.Token](fmt.Errorf("failed to exchange code for token: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You can close this window and return to the terminal.</p></body></html>")

	resCh <- result.Ok(token)
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenFile)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read token file: %v", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); nil != err {
		return nil, fmt.Errorf("failed to parse token file: %v", err)
	}

	return &token, nil
}

func (a *Authenticator) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenFile), 0o700); nil != err {
		return fmt.Errorf("failed to create token directory: %v", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if nil != err {
		return fmt.Errorf("failed to encode token: %v", err)
	}

	if err := os.WriteFile(a.tokenFile, data, 0o600); nil != err {
		return fmt.Errorf("failed to write token file: %v", err)
	}

	return nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); nil != err {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
