// Package api performs authenticated calls against the provider's model
// API. It attaches the bearer credential, detects 401 responses, and runs
// at most one refresh-and-retry cycle per call.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/quanta-haba/modelauth/internal/auth"
	"github.com/quanta-haba/modelauth/internal/config"
)

// TokenSource supplies the bearer credential for API calls. Implementations
// own the token lifecycle; RefreshAccess is invoked at most once per call
// when the provider answers 401.
type TokenSource interface {
	// AccessToken returns the current access token, refreshing first if it
	// is already known to be expired.
	AccessToken(ctx context.Context) (string, error)
	// RefreshAccess forces a refresh and returns the new access token.
	RefreshAccess(ctx context.Context) (string, error)
}

// Response carries the provider's reply to a model call.
type Response struct {
	// StatusCode is the HTTP status of the (possibly retried) request.
	StatusCode int
	// Body is the raw JSON response body, opaque to this client.
	Body []byte
}

// Text extracts the generated text from the response body, trying the
// common completion shapes. Empty when none match.
func (r *Response) Text() string {
	for _, path := range []string{"choices.0.text", "choices.0.message.content", "completion", "text"} {
		if v := gjson.GetBytes(r.Body, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// Session wraps a token source and performs authenticated model calls.
type Session struct {
	provider   *config.Provider
	tokens     TokenSource
	httpClient *http.Client
}

// NewSession creates an authenticated API session for the provider.
func NewSession(provider *config.Provider, tokens TokenSource, httpClient *http.Client) *Session {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Session{
		provider:   provider,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// BuildPayload assembles the completion request body from a prompt and
// optional extra parameters. Params overwrite defaults on key collision.
func BuildPayload(prompt string, params map[string]any) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "prompt", prompt); err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}
	if _, ok := params["max_tokens"]; !ok {
		if body, err = sjson.SetBytes(body, "max_tokens", 50); err != nil {
			return nil, fmt.Errorf("failed to build payload: %w", err)
		}
	}
	for key, value := range params {
		if body, err = sjson.SetBytes(body, key, value); err != nil {
			return nil, fmt.Errorf("failed to set payload parameter %s: %w", key, err)
		}
	}
	return body, nil
}

// Call posts the payload to the given API endpoint path with the bearer
// credential. On a 401 response it refreshes the token once and retries the
// request once; a second 401, or a failed refresh, surfaces as
// ErrNotAuthenticated. There is no further retry.
func (s *Session) Call(ctx context.Context, endpoint string, payload []byte) (*Response, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, endpoint, token, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	log.Debug("Model API returned 401; refreshing token and retrying once")
	token, err = s.tokens.RefreshAccess(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = s.post(ctx, endpoint, token, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, auth.NewAuthenticationError(auth.ErrNotAuthenticated,
			fmt.Errorf("model API rejected refreshed credentials"))
	}
	return resp, nil
}

// post performs one authenticated POST to the API endpoint.
func (s *Session) post(ctx context.Context, endpoint, token string, payload []byte) (*Response, error) {
	apiURL := strings.TrimSuffix(s.provider.APIBaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read API response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
