package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/quanta-haba/modelauth/internal/config"
)

// tokenResponse represents the response structure from the provider's OAuth
// token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Exchanger performs token-endpoint requests for a provider: exchanging an
// authorization code for tokens and refreshing an expired access token.
type Exchanger struct {
	provider   *config.Provider
	httpClient *http.Client
}

// NewExchanger creates a token exchanger for the given provider using the
// supplied HTTP client.
func NewExchanger(provider *config.Provider, httpClient *http.Client) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{
		provider:   provider,
		httpClient: httpClient,
	}
}

// ExchangeCode exchanges an authorization code for tokens. The PKCE verifier
// is included exactly when the provider has PKCE enabled; this is the only
// request that ever carries it. The authorization code is single-use, so a
// failed exchange is never retried — the whole attempt must be restarted.
//
// Parameters:
//   - ctx: The context for the request
//   - code: The authorization code received on the callback
//   - pkceCodes: The PKCE codes for this attempt, or nil when disabled
//
// Returns:
//   - *TokenRecord: The obtained tokens with an absolute expiry instant
//   - error: An error if the token exchange fails
func (e *Exchanger) ExchangeCode(ctx context.Context, code string, pkceCodes *PKCECodes) (*TokenRecord, error) {
	if e.provider.PKCEEnabled() && pkceCodes == nil {
		return nil, fmt.Errorf("PKCE codes are required for token exchange")
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {e.provider.ClientID},
		"redirect_uri": {e.provider.RedirectURI},
	}
	if e.provider.ClientSecret != "" {
		form.Set("client_secret", e.provider.ClientSecret)
	}
	if e.provider.PKCEEnabled() {
		form.Set("code_verifier", pkceCodes.CodeVerifier)
	}

	record, err := e.postTokenRequest(ctx, form)
	if err != nil {
		return nil, NewAuthenticationError(ErrTokenExchange, err)
	}
	return record, nil
}

// Refresh exchanges a refresh token for a new access token. On failure the
// caller must treat the session as unauthenticated and clear stored tokens.
//
// Parameters:
//   - ctx: The context for the request
//   - refreshToken: The refresh token to use
//
// Returns:
//   - *TokenRecord: The new token data with updated expiry
//   - error: An error if the token refresh fails
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	if refreshToken == "" {
		return nil, NewAuthenticationError(ErrRefreshFailed, fmt.Errorf("refresh token is required"))
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {e.provider.ClientID},
	}
	if e.provider.ClientSecret != "" {
		form.Set("client_secret", e.provider.ClientSecret)
	}

	record, err := e.postTokenRequest(ctx, form)
	if err != nil {
		return nil, NewAuthenticationError(ErrRefreshFailed, err)
	}
	// Providers may omit the refresh token on refresh responses; keep the
	// one we already hold.
	if record.RefreshToken == "" {
		record.RefreshToken = refreshToken
	}
	return record, nil
}

// postTokenRequest sends a form-encoded POST to the token endpoint and
// parses the response into a TokenRecord. expires_in is converted to an
// absolute instant immediately so later comparisons never depend on when
// the response was fetched.
func (e *Exchanger) postTokenRequest(ctx context.Context, form url.Values) (*TokenRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	now := time.Now()
	record := &TokenRecord{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		StoredAt:     now,
	}
	if tokenResp.ExpiresIn > 0 {
		record.ExpiresAt = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return record, nil
}

// providerError turns a non-2xx token-endpoint response into an OAuthError,
// tolerating bodies that are not the standard error JSON.
func providerError(statusCode int, body []byte) error {
	code := gjson.GetBytes(body, "error").String()
	desc := gjson.GetBytes(body, "error_description").String()
	if code == "" {
		return fmt.Errorf("token request failed with status %d: %s", statusCode, strings.TrimSpace(string(body)))
	}
	return NewOAuthError(code, desc, statusCode)
}
