package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quanta-haba/modelauth/internal/config"
)

func testProvider(tokenURL string) *config.Provider {
	return &config.Provider{
		Name:             "external-model",
		ClientID:         "client-1",
		ClientSecret:     "secret-1",
		AuthorizationURL: "https://provider.example/authorize",
		TokenURL:         tokenURL,
		APIBaseURL:       "https://api.provider.example/v1",
		Scopes:           []string{"read"},
		RedirectURI:      "http://localhost:8080/callback",
	}
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	var gotForm map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request form: %v", err)
		}
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	provider := testProvider(ts.URL)
	exchanger := NewExchanger(provider, nil)

	pkce, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	before := time.Now()
	record, err := exchanger.ExchangeCode(context.Background(), "abc123", pkce)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if record.AccessToken != "AT1" || record.RefreshToken != "RT1" {
		t.Errorf("record tokens = %q/%q, want AT1/RT1", record.AccessToken, record.RefreshToken)
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "abc123",
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"redirect_uri":  provider.RedirectURI,
		"code_verifier": pkce.CodeVerifier,
	}
	for key, value := range want {
		if gotForm[key] != value {
			t.Errorf("token request field %s = %q, want %q", key, gotForm[key], value)
		}
	}

	wantExpiry := before.Add(3600 * time.Second)
	if record.ExpiresAt.Before(wantExpiry.Add(-5*time.Second)) || record.ExpiresAt.After(wantExpiry.Add(5*time.Second)) {
		t.Errorf("ExpiresAt = %v, want about %v", record.ExpiresAt, wantExpiry)
	}
	if record.StoredAt.IsZero() {
		t.Error("StoredAt is zero, want the exchange instant")
	}
}

func TestExchangeCodeWithoutPKCE(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Has("code_verifier") {
			t.Error("code_verifier sent although PKCE is disabled")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1"}`))
	}))
	defer ts.Close()

	provider := testProvider(ts.URL)
	usePKCE := false
	provider.UsePKCE = &usePKCE

	record, err := NewExchanger(provider, nil).ExchangeCode(context.Background(), "abc123", nil)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	// No expires_in means the token never expires.
	if !record.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero for a non-expiring token", record.ExpiresAt)
	}
	if record.Expired(time.Now().Add(24 * time.Hour)) {
		t.Error("non-expiring token reported expired")
	}
}

func TestExchangeCodeProviderRejection(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code already used"}`))
	}))
	defer ts.Close()

	pkce, _ := GeneratePKCECodes()
	_, err := NewExchanger(testProvider(ts.URL), nil).ExchangeCode(context.Background(), "abc123", pkce)
	if err == nil {
		t.Fatal("ExchangeCode() succeeded against a rejecting endpoint")
	}
	if !IsAuthErrorType(err, ErrTokenExchange) {
		t.Errorf("error = %v, want token exchange error kind", err)
	}
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) || oauthErr.Code != "invalid_grant" {
		t.Errorf("error chain = %v, want wrapped OAuth error invalid_grant", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		response    string
		status      int
		wantErrKind *AuthenticationError
		wantAccess  string
		wantRefresh string
	}{
		{
			name:        "rotated refresh token",
			response:    `{"access_token":"AT2","refresh_token":"RT2","expires_in":3600}`,
			status:      http.StatusOK,
			wantAccess:  "AT2",
			wantRefresh: "RT2",
		},
		{
			name:        "refresh token omitted keeps previous",
			response:    `{"access_token":"AT2","expires_in":3600}`,
			status:      http.StatusOK,
			wantAccess:  "AT2",
			wantRefresh: "RT1",
		},
		{
			name:        "revoked refresh token",
			response:    `{"error":"invalid_grant"}`,
			status:      http.StatusBadRequest,
			wantErrKind: ErrRefreshFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
					t.Errorf("grant_type = %q, want refresh_token", got)
				}
				if got := r.PostForm.Get("refresh_token"); got != "RT1" {
					t.Errorf("refresh_token = %q, want RT1", got)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer ts.Close()

			record, err := NewExchanger(testProvider(ts.URL), nil).Refresh(context.Background(), "RT1")
			if tt.wantErrKind != nil {
				if !IsAuthErrorType(err, tt.wantErrKind) {
					t.Fatalf("Refresh() error = %v, want kind %s", err, tt.wantErrKind.Type)
				}
				return
			}
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if record.AccessToken != tt.wantAccess {
				t.Errorf("AccessToken = %q, want %q", record.AccessToken, tt.wantAccess)
			}
			if record.RefreshToken != tt.wantRefresh {
				t.Errorf("RefreshToken = %q, want %q", record.RefreshToken, tt.wantRefresh)
			}
		})
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewExchanger(testProvider("https://provider.example/token"), nil).Refresh(context.Background(), "")
	if !IsAuthErrorType(err, ErrRefreshFailed) {
		t.Errorf("Refresh(\"\") error = %v, want refresh failure", err)
	}
}
