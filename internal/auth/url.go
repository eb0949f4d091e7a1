package auth

import (
	"fmt"
	"net/url"

	"github.com/quanta-haba/modelauth/internal/config"
)

// BuildAuthorizationURL creates the provider authorization URL for one
// attempt. The state must be freshly generated for the attempt; pkceCodes
// may be nil when PKCE is disabled for the provider. The client secret is
// never part of this request.
//
// Parameters:
//   - provider: The provider configuration
//   - state: A random state parameter for CSRF protection
//   - pkceCodes: The PKCE codes for secure code exchange, or nil
//
// Returns:
//   - string: The complete authorization URL
//   - error: An error if PKCE is required but no codes were supplied
func BuildAuthorizationURL(provider *config.Provider, state string, pkceCodes *PKCECodes) (string, error) {
	if provider.PKCEEnabled() && pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {provider.ClientID},
		"redirect_uri":  {provider.RedirectURI},
		"scope":         {provider.JoinedScopes()},
		"state":         {state},
	}
	if provider.PKCEEnabled() {
		params.Set("code_challenge", pkceCodes.CodeChallenge)
		params.Set("code_challenge_method", "S256")
	}

	return fmt.Sprintf("%s?%s", provider.AuthorizationURL, params.Encode()), nil
}
