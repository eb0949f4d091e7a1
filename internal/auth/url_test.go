package auth

import (
	"net/url"
	"strings"
	"testing"

	"github.com/quanta-haba/modelauth/internal/config"
)

func TestBuildAuthorizationURL(t *testing.T) {
	t.Parallel()

	provider := testProvider("https://provider.example/token")
	provider.Scopes = []string{"read", "write"}
	pkce, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	authURL, err := BuildAuthorizationURL(provider, "state-1", pkce)
	if err != nil {
		t.Fatalf("BuildAuthorizationURL() error = %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("generated URL does not parse: %v", err)
	}
	if !strings.HasPrefix(authURL, provider.AuthorizationURL+"?") {
		t.Errorf("URL %q does not start with the authorization endpoint", authURL)
	}

	query := parsed.Query()
	want := map[string]string{
		"response_type":         "code",
		"client_id":             "client-1",
		"redirect_uri":          provider.RedirectURI,
		"scope":                 "read write",
		"state":                 "state-1",
		"code_challenge":        pkce.CodeChallenge,
		"code_challenge_method": "S256",
	}
	for key, value := range want {
		if got := query.Get(key); got != value {
			t.Errorf("query parameter %s = %q, want %q", key, got, value)
		}
	}

	// The client secret must never appear in the authorization request.
	if strings.Contains(authURL, provider.ClientSecret) {
		t.Error("authorization URL leaks the client secret")
	}
}

func TestBuildAuthorizationURLWithoutPKCE(t *testing.T) {
	t.Parallel()

	provider := testProvider("https://provider.example/token")
	usePKCE := false
	provider.UsePKCE = &usePKCE

	authURL, err := BuildAuthorizationURL(provider, "state-1", nil)
	if err != nil {
		t.Fatalf("BuildAuthorizationURL() error = %v", err)
	}
	parsed, _ := url.Parse(authURL)
	if parsed.Query().Has("code_challenge") {
		t.Error("code_challenge present although PKCE is disabled")
	}
}

func TestBuildAuthorizationURLRequiresPKCECodes(t *testing.T) {
	t.Parallel()

	provider := testProvider("https://provider.example/token")
	if _, err := BuildAuthorizationURL(provider, "state-1", nil); err == nil {
		t.Error("BuildAuthorizationURL() with PKCE enabled and nil codes succeeded")
	}
}

func TestProviderRedirectAddr(t *testing.T) {
	t.Parallel()

	provider := &config.Provider{RedirectURI: "http://localhost:8080/callback"}
	addr, path, err := provider.RedirectAddr()
	if err != nil {
		t.Fatalf("RedirectAddr() error = %v", err)
	}
	if addr != "localhost:8080" || path != "/callback" {
		t.Errorf("RedirectAddr() = %q, %q; want localhost:8080, /callback", addr, path)
	}

	provider = &config.Provider{RedirectURI: "https://example.com/callback"}
	if _, _, err = provider.RedirectAddr(); err == nil {
		t.Error("RedirectAddr() accepted a non-http redirect URI")
	}
}
