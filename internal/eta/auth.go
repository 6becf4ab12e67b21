package eta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MSBasha93/ETA-Invetcher/internal/tokenfile"
)

// Session defaults.
const (
	DefaultRefreshMargin = 5 * time.Minute
	defaultTokenLifetime = time.Hour
)

// SessionConfig holds the credentials and knobs for one account's session.
type SessionConfig struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	RefreshMargin time.Duration
	// CachePath, when set, persists tokens between processes.
	CachePath  string
	HTTPClient *http.Client
}

// Session obtains client-credentials bearer tokens and caches them until
// RefreshMargin before expiry. It is safe for concurrent use, although the
// engine only ever calls it from one goroutine per account.
type Session struct {
	oauth      clientcredentials.Config
	clientID   string
	margin     time.Duration
	cachePath  string
	httpClient *http.Client
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewSession creates a Session. No network call is made until Token.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Session{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		clientID:   cfg.ClientID,
		margin:     cfg.RefreshMargin,
		cachePath:  cfg.CachePath,
		httpClient: cfg.HTTPClient,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Token returns a bearer token, re-authenticating synchronously when the
// cached one is absent or inside the refresh margin.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil && s.cachePath != "" {
		s.loadCached()
	}

	if s.fresh(s.tok) {
		return s.tok.AccessToken, nil
	}

	s.logger.Debug("token expired or missing, authenticating")

	tok, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}

	s.tok = tok

	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tok = nil

	if s.cachePath != "" {
		if err := tokenfile.Remove(s.cachePath); err != nil {
			s.logger.Warn("removing cached token", slog.String("error", err.Error()))
		}
	}
}

// Test forces a fresh token exchange, discarding any cached token.
func (s *Session) Test(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.exchange(ctx)
	if err != nil {
		s.tok = nil
		return err
	}

	s.tok = tok

	return nil
}

// Expiry returns when the cached token expires, or the zero time.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil {
		return time.Time{}
	}

	return s.tok.Expiry
}

func (s *Session) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}

	return s.nowFunc().Before(tok.Expiry.Add(-s.margin))
}

func (s *Session) exchange(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	tok, err := s.oauth.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("eta: token request canceled: %w", ctxErr)
		}

		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAuth, re.Response.StatusCode, re.ErrorDescription)
		}

		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	// The identity endpoint may omit expires_in.
	if tok.Expiry.IsZero() {
		tok.Expiry = s.nowFunc().Add(defaultTokenLifetime)
	}

	s.logger.Info("authenticated", slog.Time("expiry", tok.Expiry))

	if s.cachePath != "" {
		if err := tokenfile.Save(s.cachePath, s.clientID, tok); err != nil {
			s.logger.Warn("caching token", slog.String("error", err.Error()))
		}
	}

	return tok, nil
}

func (s *Session) loadCached() {
	tok, err := tokenfile.Load(s.cachePath, s.clientID)
	if err != nil {
		s.logger.Warn("ignoring unreadable token cache",
			slog.String("path", s.cachePath),
			slog.String("error", err.Error()),
		)

		return
	}

	if tok != nil {
		s.tok = tok
	}
}
