// Package auth implements the OAuth2 Authorization Code flow with PKCE
// used to obtain credentials for external model providers. It covers PKCE
// and state generation, authorization URL construction, the local callback
// listener, and token exchange/refresh against the provider token endpoint.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a code verifier and its derived challenge for a single
// authorization attempt. The verifier is transmitted exactly once, during
// token exchange, and discarded afterwards.
type PKCECodes struct {
	// CodeVerifier is the cryptographically random secret held by the client.
	CodeVerifier string
	// CodeChallenge is the base64url(SHA-256(verifier)) value sent in the
	// authorization request.
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 for the OAuth 2.0 PKCE extension. The challenge method
// is always S256.
//
// Returns:
//   - *PKCECodes: A struct containing the code verifier and challenge
//   - error: An error if the generation fails, nil otherwise
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier creates a cryptographically random string using
// URL-safe base64 encoding without padding. 32 random bytes yield a
// 43-character verifier, the RFC 7636 minimum.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier and
// encodes it using URL-safe base64 encoding without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
