// Package config provides configuration management for the modelauth client.
// It handles loading and parsing YAML configuration files and provides
// structured access to provider settings, with defaults applied and
// validated eagerly at load time.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied to a Provider when the corresponding field is unset.
const (
	DefaultRedirectURI    = "http://localhost:8080/callback"
	DefaultRequestTimeout = 30
)

// DefaultScopes is the scope list used when a provider declares none.
var DefaultScopes = []string{"read"}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Provider holds the OAuth and API settings for the external model
	// provider this client authenticates against.
	Provider Provider `yaml:"provider" json:"provider"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// RequestTimeout bounds outbound token and API requests, in seconds.
	RequestTimeout int `yaml:"request-timeout,omitempty" json:"request-timeout,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	// LogFile is an optional path for rotated file logging. Empty logs to
	// stderr only.
	LogFile string `yaml:"log-file,omitempty" json:"log-file,omitempty"`

	// KeystoreNamespace is the secret-store service namespace under which
	// token records are persisted.
	KeystoreNamespace string `yaml:"keystore-namespace,omitempty" json:"keystore-namespace,omitempty"`
}

// Provider describes one OAuth2 provider. It is immutable after load; the
// client never mutates it.
type Provider struct {
	// Name identifies the provider in the keystore and in logs.
	Name string `yaml:"name" json:"name"`

	// ClientID is the OAuth2 client identifier.
	ClientID string `yaml:"client-id" json:"client-id"`

	// ClientSecret is the OAuth2 client secret. May be empty for public
	// clients. Never logged and never part of the authorization URL.
	ClientSecret string `yaml:"client-secret,omitempty" json:"client-secret,omitempty"`

	// AuthorizationURL is the provider's authorization endpoint.
	AuthorizationURL string `yaml:"authorization-url" json:"authorization-url"`

	// TokenURL is the provider's token endpoint.
	TokenURL string `yaml:"token-url" json:"token-url"`

	// APIBaseURL is the base URL for authenticated model API calls.
	APIBaseURL string `yaml:"api-base-url" json:"api-base-url"`

	// Scopes are the OAuth scopes requested during authorization.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// RedirectURI is the loopback redirect the callback listener binds to.
	RedirectURI string `yaml:"redirect-uri,omitempty" json:"redirect-uri,omitempty"`

	// UsePKCE enables the PKCE extension. Defaults to true; set use-pkce:
	// false explicitly to disable.
	UsePKCE *bool `yaml:"use-pkce,omitempty" json:"use-pkce,omitempty"`
}

// PKCEEnabled reports whether the PKCE extension is enabled for this
// provider. Unset means enabled.
func (p *Provider) PKCEEnabled() bool {
	return p.UsePKCE == nil || *p.UsePKCE
}

// LoadConfig reads the YAML configuration file at the given path, applies
// defaults, and validates it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.KeystoreNamespace == "" {
		c.KeystoreNamespace = "quanta-haba-oauth"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "external-model"
	}
	if len(c.Provider.Scopes) == 0 {
		c.Provider.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.Provider.RedirectURI == "" {
		c.Provider.RedirectURI = DefaultRedirectURI
	}
}

// Validate checks that the provider configuration is complete and that the
// redirect URI is a usable loopback address.
func (c *Config) Validate() error {
	p := &c.Provider
	if p.ClientID == "" {
		return fmt.Errorf("provider %s: client-id is required", p.Name)
	}
	if p.AuthorizationURL == "" {
		return fmt.Errorf("provider %s: authorization-url is required", p.Name)
	}
	if p.TokenURL == "" {
		return fmt.Errorf("provider %s: token-url is required", p.Name)
	}
	if _, _, err := p.RedirectAddr(); err != nil {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	return nil
}

// RedirectAddr parses the redirect URI into the host:port the callback
// listener binds to and the path it serves.
func (p *Provider) RedirectAddr() (addr, path string, err error) {
	u, err := url.Parse(p.RedirectURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect-uri %q: %w", p.RedirectURI, err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect-uri %q must use http on a loopback address", p.RedirectURI)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "8080"
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return host + ":" + port, path, nil
}

// JoinedScopes returns the scope list as the space-separated string used in
// the authorization request.
func (p *Provider) JoinedScopes() string {
	return strings.Join(p.Scopes, " ")
}
