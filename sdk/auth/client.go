// Package auth exposes the credential-issuance client the integrating
// application works against. A Client owns the OAuth2 Authorization Code +
// PKCE flow for one provider: it starts and tears down the loopback
// callback listener, validates the returned state, exchanges and refreshes
// tokens, persists them in the secure keystore, and performs authenticated
// model API calls with a bounded refresh-and-retry.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quanta-haba/modelauth/internal/api"
	"github.com/quanta-haba/modelauth/internal/auth"
	"github.com/quanta-haba/modelauth/internal/config"
	"github.com/quanta-haba/modelauth/internal/keystore"
)

// SessionState identifies the client's position in the authentication state
// machine.
type SessionState string

// Client session states.
const (
	StateUnauthenticated      SessionState = "unauthenticated"
	StateAuthorizationPending SessionState = "authorization_pending"
	StateAuthenticated        SessionState = "authenticated"
	StateRefreshing           SessionState = "refreshing"
)

// Options customizes Client construction. The zero value selects the
// keyring-backed store, a proxy-aware HTTP client, and the system browser.
type Options struct {
	// Store overrides token persistence. Nil selects the OS keyring store
	// under the configured namespace.
	Store keystore.Store
	// HTTPClient overrides the outbound HTTP client for token and API
	// requests.
	HTTPClient *http.Client
	// NoBrowser suppresses opening the system browser; the authorization
	// URL is only reported on the handle.
	NoBrowser bool
	// OpenURL overrides how the authorization URL is opened.
	OpenURL func(url string) error
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Client orchestrates authentication and API access for one provider. A
// single authorization attempt may be in flight at a time; Initiate while
// one is pending is rejected.
type Client struct {
	cfg      *config.Config
	provider *config.Provider

	store     keystore.Store
	exchanger *auth.Exchanger
	session   *api.Session
	openURL   func(string) error
	noBrowser bool
	now       func() time.Time

	// mu guards state, token, and the pending attempt. The callback
	// listener's handler goroutine never touches these; it is read only
	// through the handle's non-blocking poll.
	mu      sync.Mutex
	state   SessionState
	token   *auth.TokenRecord
	attempt *Handle
}

// NewClient constructs a client for the configured provider. Previously
// stored tokens are loaded so a restart resumes an authenticated session;
// an unreadable store is logged and the client starts unauthenticated.
func NewClient(cfg *config.Config, opts *Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = newHTTPClient(cfg); err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		store = keystore.NewKeyringStore(cfg.KeystoreNamespace)
	}

	openURL := opts.OpenURL
	if openURL == nil {
		openURL = defaultOpenURL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		cfg:       cfg,
		provider:  &cfg.Provider,
		store:     store,
		exchanger: auth.NewExchanger(&cfg.Provider, httpClient),
		openURL:   openURL,
		noBrowser: opts.NoBrowser,
		now:       now,
		state:     StateUnauthenticated,
	}
	c.session = api.NewSession(&cfg.Provider, (*clientTokenSource)(c), httpClient)
	c.loadStoredToken()
	return c, nil
}

// newHTTPClient builds the outbound HTTP client from the configured timeout
// and optional proxy.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	client := &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy-url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return client, nil
}

// loadStoredToken resumes a persisted session. Expired records without a
// refresh token are useless and discarded.
func (c *Client) loadStoredToken() {
	record, err := c.store.Load(c.provider.Name)
	if err != nil {
		log.Warnf("Could not read stored tokens for %s: %v", c.provider.Name, err)
		return
	}
	if record == nil {
		return
	}
	if record.Expired(c.now()) && record.RefreshToken == "" {
		log.Debugf("Stored token for %s is expired and not refreshable; ignoring", c.provider.Name)
		return
	}
	c.token = record
	c.state = StateAuthenticated
	log.Debugf("Resumed stored session for %s", c.provider.Name)
}

// IsAuthenticated reports whether the client holds a usable token. An
// expired token triggers exactly one synchronous refresh attempt first.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated || c.token == nil {
		return false
	}
	if !c.token.Expired(c.now()) {
		return true
	}
	if err := c.refreshLocked(ctx); err != nil {
		log.Debugf("Refresh of expired token failed: %v", err)
		return false
	}
	return true
}

// Refresh forces a token refresh. On failure the session becomes
// unauthenticated and stored tokens are cleared.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return auth.NewAuthenticationError(auth.ErrNotAuthenticated, fmt.Errorf("no token to refresh"))
	}
	return c.refreshLocked(ctx)
}

// refreshLocked refreshes the in-memory token. Caller holds c.mu. On any
// failure the client transitions to Unauthenticated and the persisted
// record is deleted; there is no retry loop.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token == nil || c.token.RefreshToken == "" {
		c.clearSessionLocked()
		return auth.NewAuthenticationError(auth.ErrRefreshFailed, fmt.Errorf("no refresh token available"))
	}

	c.state = StateRefreshing
	record, err := c.exchanger.Refresh(ctx, c.token.RefreshToken)
	if err != nil {
		log.Warnf("Token refresh for %s failed: %v", c.provider.Name, err)
		c.clearSessionLocked()
		return err
	}

	c.token = record
	c.state = StateAuthenticated
	c.persistLocked(record)
	log.Debugf("Refreshed access token for %s", c.provider.Name)
	return nil
}

// persistLocked saves the record, degrading gracefully when the secure
// store is unavailable: the in-memory session continues either way.
func (c *Client) persistLocked(record *auth.TokenRecord) {
	if err := c.store.Save(c.provider.Name, record); err != nil {
		log.Warnf("Could not persist tokens for %s; continuing with in-memory session: %v", c.provider.Name, err)
	}
}

// clearSessionLocked drops the in-memory token, deletes the persisted
// record, and returns to Unauthenticated. Caller holds c.mu.
func (c *Client) clearSessionLocked() {
	c.token = nil
	c.state = StateUnauthenticated
	if err := c.store.Delete(c.provider.Name); err != nil {
		log.Warnf("Could not delete stored tokens for %s: %v", c.provider.Name, err)
	}
}

// Logout clears the in-memory token and the persisted record. Valid from
// any state and idempotent; a pending authorization attempt is abandoned
// and its listener stopped.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt = nil
	c.clearSessionLocked()
	c.mu.Unlock()

	if attempt != nil {
		attempt.stop(ctx)
	}
}

// Call sends a prompt with optional parameters to the provider's completion
// endpoint. Requires an authenticated session; an expired token is
// refreshed first, and a 401 reply triggers at most one refresh-and-retry
// cycle.
func (c *Client) Call(ctx context.Context, prompt string, params map[string]any) (*api.Response, error) {
	c.mu.Lock()
	authenticated := c.state == StateAuthenticated && c.token != nil
	c.mu.Unlock()
	if !authenticated {
		return nil, auth.NewAuthenticationError(auth.ErrNotAuthenticated, fmt.Errorf("authenticate before calling the model API"))
	}

	payload, err := api.BuildPayload(prompt, params)
	if err != nil {
		return nil, err
	}
	return c.session.Call(ctx, "completions", payload)
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a read-only projection of the authentication state for display
// by the integrating UI. It never triggers a refresh.
type Status struct {
	// Authenticated reports whether a non-expired token is held.
	Authenticated bool `json:"authenticated"`
	// State is the session state machine position.
	State SessionState `json:"state"`
	// ExpiresAt is the access token expiry instant; zero when the token
	// never expires or none is held.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	// ExpiresInSeconds is the remaining token lifetime. Negative when
	// already expired; zero when no expiry applies.
	ExpiresInSeconds int64 `json:"expires_in_seconds,omitempty"`
}

// Status reports the current authentication status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	if c.state != StateAuthenticated || c.token == nil {
		return st
	}
	now := c.now()
	st.Authenticated = !c.token.Expired(now)
	if remaining, ok := c.token.TimeToExpiry(now); ok {
		st.ExpiresAt = c.token.ExpiresAt
		st.ExpiresInSeconds = int64(remaining.Seconds())
	}
	return st
}

// clientTokenSource adapts the client to the api.TokenSource interface so
// the API session can pull and refresh credentials without reaching into
// client internals.
type clientTokenSource Client

// AccessToken returns the current access token, refreshing it first when
// already expired.
func (s *clientTokenSource) AccessToken(ctx context.Context) (string, error) {
	c := (*Client)(s)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated || c.token == nil {
		return "", auth.NewAuthenticationError(auth.ErrNotAuthenticated, fmt.Errorf("no active session"))
	}
	if c.token.Expired(c.now()) {
		if err := c.refreshLocked(ctx); err != nil {
			return "", auth.NewAuthenticationError(auth.ErrNotAuthenticated, err)
		}
	}
	return c.token.AccessToken, nil
}

// RefreshAccess forces one refresh after a 401 and returns the new token.
// Failure leaves the client unauthenticated.
func (s *clientTokenSource) RefreshAccess(ctx context.Context) (string, error) {
	c := (*Client)(s)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return "", auth.NewAuthenticationError(auth.ErrNotAuthenticated, err)
	}
	return c.token.AccessToken, nil
}
