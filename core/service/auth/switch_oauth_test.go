package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"switch_server/core/domain"
	"switch_server/pkg/apperr"
)

// memConnStore is a minimal in-memory ConnectionStore for service tests.
type memConnStore struct {
	mu    sync.Mutex
	conns map[domain.Provider]domain.Connection
}

func newMemConnStore() *memConnStore {
	return &memConnStore{conns: make(map[domain.Provider]domain.Connection)}
}

func (s *memConnStore) Get(_ context.Context, provider domain.Provider) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[provider]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (s *memConnStore) Save(_ context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.Provider] = *conn
	return nil
}

func (s *memConnStore) Delete(_ context.Context, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, provider)
	return nil
}

// tokenServer is a fake OAuth token endpoint.
type tokenServer struct {
	srv       *httptest.Server
	mu        sync.Mutex
	hits      int
	status    int
	body      string
	lastForm  url.Values
	expiresIn int
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK, expiresIn: 3600}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		ts.mu.Lock()
		ts.hits++
		ts.lastForm = r.PostForm
		status, body := ts.status, ts.body
		if body == "" {
			body = fmt.Sprintf(`{"access_token":"new-access","token_type":"Bearer","expires_in":%d,"refresh_token":"new-refresh"}`, ts.expiresIn)
		}
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tokenServer) hitCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits
}

func newTestService(t *testing.T, store *memConnStore, ts *tokenServer) *OAuthService {
	t.Helper()
	svc := NewOAuthService(OAuthConfig{
		GoogleClientID:        "google-client",
		GoogleClientSecret:    "google-secret",
		MicrosoftClientID:     "ms-client",
		MicrosoftClientSecret: "ms-secret",
		RedirectURL:           "https://relay.example.com/oauth/callback",
		StateSecret:           "test-state-secret",
	}, store)

	if ts != nil {
		for _, cfg := range svc.configs {
			cfg.Endpoint = oauth2.Endpoint{
				AuthURL:  ts.srv.URL + "/auth",
				TokenURL: ts.srv.URL + "/token",
			}
		}
		svc.httpClient = ts.srv.Client()
		svc.revokeURL = ts.srv.URL + "/revoke"
	}
	return svc
}

func TestAuthorizeURLGeneratesPKCE(t *testing.T) {
	store := newMemConnStore()
	svc := newTestService(t, store, nil)

	authURL, state, err := svc.AuthorizeURL(context.Background(), domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("invalid auth URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("code_challenge") == "" {
		t.Error("expected code_challenge in auth URL")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected S256 challenge method, got %q", q.Get("code_challenge_method"))
	}
	if q.Get("state") != state {
		t.Error("state in URL does not match returned state")
	}
	if q.Get("access_type") != "offline" {
		t.Error("google auth URL must request offline access")
	}

	conn, _ := store.Get(context.Background(), domain.ProviderGoogle)
	if conn == nil || len(conn.PKCEVerifier) < 43 {
		t.Fatalf("expected stored verifier of at least 43 chars, got %q", conn.PKCEVerifier)
	}

	claims, err := verifyState([]byte("test-state-secret"), state)
	if err != nil {
		t.Fatalf("state does not verify: %v", err)
	}
	if claims.Provider != string(domain.ProviderGoogle) || claims.Nonce != conn.Nonce {
		t.Errorf("state claims do not match stored attempt: %+v", claims)
	}
}

func TestAuthorizeURLInvalidatesPriorAttempt(t *testing.T) {
	store := newMemConnStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	svc.AuthorizeURL(ctx, domain.ProviderGoogle)
	first, _ := store.Get(ctx, domain.ProviderGoogle)

	svc.AuthorizeURL(ctx, domain.ProviderGoogle)
	second, _ := store.Get(ctx, domain.ProviderGoogle)

	if first.PKCEVerifier == second.PKCEVerifier {
		t.Error("second attempt should replace the stored verifier")
	}
	if first.Nonce == second.Nonce {
		t.Error("second attempt should replace the stored nonce")
	}
}

func TestHandleCallbackMissingCode(t *testing.T) {
	svc := newTestService(t, newMemConnStore(), nil)

	_, err := svc.HandleCallback(context.Background(), domain.ProviderGoogle, "", "state")
	if !apperr.IsCode(err, apperr.CodeMissingCode) {
		t.Errorf("expected MISSING_CODE, got %v", err)
	}
}

func TestHandleCallbackWithoutAttempt(t *testing.T) {
	svc := newTestService(t, newMemConnStore(), nil)

	_, err := svc.HandleCallback(context.Background(), domain.ProviderGoogle, "some-code", "state")
	if !apperr.IsCode(err, apperr.CodeExchangeFailed) {
		t.Errorf("expected EXCHANGE_FAILED when no attempt is in flight, got %v", err)
	}
}

func TestHandleCallbackExchangesAndStores(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	_, state, err := svc.AuthorizeURL(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	conn, err := svc.HandleCallback(ctx, domain.ProviderGoogle, "auth-code", state)
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	if conn.AccessToken != "new-access" || conn.RefreshToken != "new-refresh" {
		t.Errorf("tokens not stored: %+v", conn)
	}
	if conn.PKCEVerifier != "" || conn.Nonce != "" {
		t.Error("verifier and nonce must be cleared after exchange")
	}

	// Stored expiry carries the 30s safety margin.
	wantExpiry := time.Now().Add(time.Duration(3600)*time.Second - 30*time.Second)
	if diff := conn.ExpiresAt.Sub(wantExpiry); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("expected expiry near %v, got %v", wantExpiry, conn.ExpiresAt)
	}

	ts.mu.Lock()
	verifierSent := ts.lastForm.Get("code_verifier")
	ts.mu.Unlock()
	if verifierSent == "" {
		t.Error("exchange request must carry the PKCE verifier")
	}
}

func TestHandleCallbackToleratesStateMismatch(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	if _, _, err := svc.AuthorizeURL(ctx, domain.ProviderGoogle); err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	// The relay may not round-trip the original state; the exchange must
	// still proceed on the stored verifier.
	conn, err := svc.HandleCallback(ctx, domain.ProviderGoogle, "auth-code", "not-a-valid-state")
	if err != nil {
		t.Fatalf("expected exchange to proceed despite bad state, got %v", err)
	}
	if conn.AccessToken != "new-access" {
		t.Errorf("tokens not stored: %+v", conn)
	}
}

func TestHandleCallbackProviderError(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	ts.status = http.StatusBadRequest
	ts.body = `{"error":"invalid_grant","error_description":"code expired"}`
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	_, state, _ := svc.AuthorizeURL(ctx, domain.ProviderGoogle)
	_, err := svc.HandleCallback(ctx, domain.ProviderGoogle, "auth-code", state)
	if !apperr.IsCode(err, apperr.CodeProviderError) {
		t.Errorf("expected PROVIDER_ERROR for structured oauth error, got %v", err)
	}
}

func TestAccessTokenServesCachedWhenFresh(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	store.Save(ctx, &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "cached",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	token, err := svc.AccessToken(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "cached" {
		t.Errorf("expected cached token, got %q", token)
	}
	if ts.hitCount() != 0 {
		t.Errorf("no token endpoint call expected, got %d", ts.hitCount())
	}
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	// Expiry 30s out is inside the 60s refresh leeway.
	store.Save(ctx, &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	})

	token, err := svc.AccessToken(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "new-access" {
		t.Errorf("expected refreshed token, got %q", token)
	}
	if ts.hitCount() != 1 {
		t.Errorf("expected exactly one refresh call, got %d", ts.hitCount())
	}

	conn, _ := store.Get(ctx, domain.ProviderGoogle)
	if conn.RefreshToken != "new-refresh" {
		t.Errorf("rotated refresh token not stored, got %q", conn.RefreshToken)
	}
}

func TestAccessTokenKeepsRefreshTokenWhenOmitted(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	ts.body = `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	store.Save(ctx, &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "stale",
		RefreshToken: "original-refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	})

	if _, err := svc.AccessToken(ctx, domain.ProviderGoogle); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	conn, _ := store.Get(ctx, domain.ProviderGoogle)
	if conn.RefreshToken != "original-refresh" {
		t.Errorf("refresh token must survive a grant that omits it, got %q", conn.RefreshToken)
	}
}

func TestAccessTokenStaleFallbackOnRefreshFailure(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	ts.status = http.StatusInternalServerError
	ts.body = `{"error":"server_error"}`
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	store.Save(ctx, &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	token, err := svc.AccessToken(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("stale fallback must not error, got %v", err)
	}
	if token != "stale" {
		t.Errorf("expected stale token on refresh failure, got %q", token)
	}
}

func TestAccessTokenWithoutRefreshTokenCannotSelfHeal(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	store.Save(ctx, &domain.Connection{
		Provider:    domain.ProviderGoogle,
		AccessToken: "expiring",
		ExpiresAt:   time.Now().Add(10 * time.Second),
	})

	token, err := svc.AccessToken(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "expiring" {
		t.Errorf("expected current token back, got %q", token)
	}
	if ts.hitCount() != 0 {
		t.Errorf("no refresh attempt expected without a refresh token, got %d", ts.hitCount())
	}
}

func TestAccessTokenUnavailableWithoutConnection(t *testing.T) {
	svc := newTestService(t, newMemConnStore(), nil)

	_, err := svc.AccessToken(context.Background(), domain.ProviderGoogle)
	if !apperr.IsCode(err, apperr.CodeTokenUnavailable) {
		t.Errorf("expected TOKEN_UNAVAILABLE, got %v", err)
	}
}

func TestDisconnectRevokesAndClears(t *testing.T) {
	store := newMemConnStore()
	ts := newTokenServer(t)
	svc := newTestService(t, store, ts)
	ctx := context.Background()

	store.Save(ctx, &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	if err := svc.Disconnect(ctx, domain.ProviderGoogle); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if ts.hitCount() != 1 {
		t.Errorf("expected one revocation call, got %d", ts.hitCount())
	}
	ts.mu.Lock()
	revoked := ts.lastForm.Get("token")
	ts.mu.Unlock()
	if revoked != "refresh" {
		t.Errorf("expected refresh token revoked, got %q", revoked)
	}

	conn, _ := store.Get(ctx, domain.ProviderGoogle)
	if conn != nil {
		t.Error("connection should be deleted after disconnect")
	}

	// Idempotent on repeat.
	if err := svc.Disconnect(ctx, domain.ProviderGoogle); err != nil {
		t.Errorf("repeat disconnect must be a no-op, got %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()

	state, err := signState(secret, domain.ProviderMicrosoft, "nonce-1", now)
	if err != nil {
		t.Fatalf("signState failed: %v", err)
	}

	claims, err := verifyState(secret, state)
	if err != nil {
		t.Fatalf("verifyState failed: %v", err)
	}
	if claims.Provider != "microsoft" || claims.Nonce != "nonce-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := verifyState([]byte("wrong-secret"), state); err == nil {
		t.Error("state signed with another secret must not verify")
	}
	if _, err := verifyState(secret, "garbage"); err == nil {
		t.Error("malformed state must not verify")
	}
	if !strings.HasPrefix(state, "eyJ") {
		t.Errorf("expected a compact JWT, got %q", state[:10])
	}
}
