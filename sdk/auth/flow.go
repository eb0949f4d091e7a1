package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quanta-haba/modelauth/internal/auth"
	"github.com/quanta-haba/modelauth/internal/browser"
)

// Finish polling defaults.
const (
	DefaultFinishTimeout = 5 * time.Minute
	pollInterval         = 100 * time.Millisecond
)

// Handle identifies one in-flight authorization attempt. It carries the
// attempt's PKCE material and state token, and owns the callback listener
// until Finish (or Logout) tears it down.
type Handle struct {
	// ID uniquely identifies the attempt.
	ID string
	// AuthorizationURL is the provider URL the user's browser was sent to;
	// the UI can surface it when the browser did not open.
	AuthorizationURL string

	state  string
	pkce   *auth.PKCECodes
	server *auth.CallbackServer
}

// stop shuts the attempt's listener down. Safe to call multiple times.
func (h *Handle) stop(ctx context.Context) {
	if h.server == nil {
		return
	}
	if err := h.server.Stop(ctx); err != nil {
		log.Warnf("OAuth callback listener stop error: %v", err)
	}
}

// defaultOpenURL opens the authorization URL in the system browser.
func defaultOpenURL(url string) error {
	if !browser.IsAvailable() {
		return fmt.Errorf("no browser available")
	}
	return browser.OpenURL(url)
}

// Initiate starts a new authorization attempt: it generates the PKCE pair
// and state token, binds the callback listener, and opens the authorization
// URL in the system browser. Valid only when no attempt is pending; the
// returned handle is passed to Finish.
//
// Opening the browser is fire-and-forget: on failure the URL is logged and
// left on the handle, and the listener keeps waiting regardless.
func (c *Client) Initiate(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAuthorizationPending {
		return nil, auth.NewAuthenticationError(auth.ErrAuthorizationPending,
			fmt.Errorf("attempt %s is still pending", c.attempt.ID))
	}

	var pkceCodes *auth.PKCECodes
	if c.provider.PKCEEnabled() {
		var err error
		if pkceCodes, err = auth.GeneratePKCECodes(); err != nil {
			return nil, fmt.Errorf("pkce generation failed: %w", err)
		}
	}

	state, err := auth.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("state generation failed: %w", err)
	}

	addr, path, err := c.provider.RedirectAddr()
	if err != nil {
		return nil, err
	}

	server := auth.NewCallbackServer(addr, path)
	if err = server.Start(); err != nil {
		return nil, err
	}

	authURL, err := auth.BuildAuthorizationURL(c.provider, state, pkceCodes)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if stopErr := server.Stop(stopCtx); stopErr != nil {
			log.Warnf("OAuth callback listener stop error: %v", stopErr)
		}
		return nil, err
	}

	handle := &Handle{
		ID:               uuid.NewString(),
		AuthorizationURL: authURL,
		state:            state,
		pkce:             pkceCodes,
		server:           server,
	}

	if c.noBrowser {
		log.Infof("Visit the following URL to continue authentication:\n%s", authURL)
	} else if err = c.openURL(authURL); err != nil {
		log.Warnf("Failed to open browser automatically: %v", err)
		log.Infof("Visit the following URL to continue authentication:\n%s", authURL)
	}

	c.attempt = handle
	c.state = StateAuthorizationPending
	log.Debugf("Authorization attempt %s started for %s", handle.ID, c.provider.Name)
	return handle, nil
}

// Finish completes an authorization attempt. It polls the callback listener
// until a result arrives or the timeout elapses (DefaultFinishTimeout when
// zero), then validates the returned state, exchanges the code for tokens,
// and persists them. Every exit path stops the listener and leaves the
// client in a clean state, so a subsequent Initiate can rebind the port.
func (c *Client) Finish(ctx context.Context, handle *Handle, timeout time.Duration) error {
	if err := c.checkAttempt(handle); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultFinishTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var result *auth.Callback
	for result == nil {
		select {
		case <-ctx.Done():
			c.abandonAttempt(ctx, handle)
			return ctx.Err()
		case <-deadline.C:
			c.abandonAttempt(ctx, handle)
			return auth.NewAuthenticationError(auth.ErrCallbackTimeout,
				fmt.Errorf("no callback received within %s", timeout))
		case <-ticker.C:
			result = handle.server.Poll()
		}
	}

	return c.completeAttempt(ctx, handle, result)
}

// CompleteManual finishes an attempt from a manually pasted callback URL,
// for environments where the browser cannot reach the loopback listener
// (e.g. an SSH session). The raw input is parsed leniently.
func (c *Client) CompleteManual(ctx context.Context, handle *Handle, rawCallback string) error {
	if err := c.checkAttempt(handle); err != nil {
		return err
	}

	result, err := auth.ParseCallback(rawCallback)
	if err != nil {
		c.abandonAttempt(ctx, handle)
		return err
	}
	if result == nil {
		return fmt.Errorf("callback URL is required")
	}
	return c.completeAttempt(ctx, handle, result)
}

// checkAttempt verifies the handle belongs to the current pending attempt.
func (c *Client) checkAttempt(handle *Handle) error {
	if handle == nil {
		return fmt.Errorf("authorization handle is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthorizationPending || c.attempt == nil || c.attempt.ID != handle.ID {
		return fmt.Errorf("no pending authorization attempt for handle %s", handle.ID)
	}
	return nil
}

// abandonAttempt stops the attempt's listener and returns the client to
// Unauthenticated, discarding the attempt's PKCE material and state token.
func (c *Client) abandonAttempt(ctx context.Context, handle *Handle) {
	handle.stop(ctx)
	c.mu.Lock()
	c.attempt = nil
	if c.state == StateAuthorizationPending {
		c.state = StateUnauthenticated
	}
	c.mu.Unlock()
}

// completeAttempt validates the callback result and performs the token
// exchange. The listener is stopped before anything else so no attempt
// leaks a live socket; the state comparison always precedes the exchange.
func (c *Client) completeAttempt(ctx context.Context, handle *Handle, result *auth.Callback) error {
	handle.stop(ctx)

	fail := func(err error) error {
		c.mu.Lock()
		c.attempt = nil
		c.state = StateUnauthenticated
		c.mu.Unlock()
		return err
	}

	if result.Error != "" {
		log.Infof("Authorization for %s denied: %s", c.provider.Name, result.Error)
		return fail(auth.NewAuthenticationError(auth.ErrAuthorizationDenied,
			auth.NewOAuthError(result.Error, result.ErrorDescription, http.StatusForbidden)))
	}

	if result.State != handle.state {
		log.Errorf("State mismatch on callback for %s; dropping authorization code", c.provider.Name)
		return fail(auth.NewAuthenticationError(auth.ErrStateMismatch,
			fmt.Errorf("returned state does not match attempt %s", handle.ID)))
	}

	record, err := c.exchanger.ExchangeCode(ctx, result.Code, handle.pkce)
	if err != nil {
		log.Errorf("Token exchange for %s failed: %v", c.provider.Name, err)
		return fail(err)
	}

	c.mu.Lock()
	c.attempt = nil
	c.token = record
	c.state = StateAuthenticated
	c.persistLocked(record)
	c.mu.Unlock()

	log.Infof("Authenticated with %s", c.provider.Name)
	return nil
}
