package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/quanta-haba/modelauth/internal/auth"
	"github.com/quanta-haba/modelauth/internal/config"
)

// fakeTokens is a scripted TokenSource counting refreshes.
type fakeTokens struct {
	token      string
	refreshed  string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeTokens) RefreshAccess(ctx context.Context) (string, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.refreshed, nil
}

func apiProvider(baseURL string) *config.Provider {
	return &config.Provider{
		Name:       "external-model",
		ClientID:   "client-1",
		APIBaseURL: baseURL,
	}
}

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		prompt        string
		params        map[string]any
		wantMaxTokens int64
		wantExtra     map[string]string
	}{
		{
			name:          "defaults applied",
			prompt:        "hello",
			params:        nil,
			wantMaxTokens: 50,
		},
		{
			name:          "params override defaults",
			prompt:        "hello",
			params:        map[string]any{"max_tokens": 200, "temperature": 0.2},
			wantMaxTokens: 200,
		},
		{
			name:          "extra string parameter",
			prompt:        "hello",
			params:        map[string]any{"model": "small-1"},
			wantMaxTokens: 50,
			wantExtra:     map[string]string{"model": "small-1"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload, err := BuildPayload(tt.prompt, tt.params)
			if err != nil {
				t.Fatalf("BuildPayload() error = %v", err)
			}
			if got := gjson.GetBytes(payload, "prompt").String(); got != tt.prompt {
				t.Errorf("prompt = %q, want %q", got, tt.prompt)
			}
			if got := gjson.GetBytes(payload, "max_tokens").Int(); got != tt.wantMaxTokens {
				t.Errorf("max_tokens = %d, want %d", got, tt.wantMaxTokens)
			}
			for key, value := range tt.wantExtra {
				if got := gjson.GetBytes(payload, key).String(); got != value {
					t.Errorf("%s = %q, want %q", key, got, value)
				}
			}
		})
	}
}

func TestSessionCall(t *testing.T) {
	t.Parallel()

	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			t.Errorf("Authorization header = %q, want Bearer AT1", got)
		}
		body, _ := io.ReadAll(r.Body)
		if got := gjson.GetBytes(body, "prompt").String(); got != "hello" {
			t.Errorf("prompt = %q, want hello", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"hi there"}]}`))
	}))
	defer ts.Close()

	tokens := &fakeTokens{token: "AT1"}
	session := NewSession(apiProvider(ts.URL), tokens, nil)

	payload, err := BuildPayload("hello", nil)
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}
	resp, err := session.Call(context.Background(), "completions", payload)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := resp.Text(); got != "hi there" {
		t.Errorf("Text() = %q, want %q", got, "hi there")
	}
	if calls != 1 {
		t.Errorf("API called %d times, want 1", calls)
	}
	if tokens.refreshes != 0 {
		t.Errorf("refresh called %d times, want 0", tokens.refreshes)
	}
}

func TestSessionCallRefreshesOnceOn401(t *testing.T) {
	t.Parallel()

	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer AT2" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer ts.Close()

	tokens := &fakeTokens{token: "AT1", refreshed: "AT2"}
	session := NewSession(apiProvider(ts.URL), tokens, nil)

	payload, _ := BuildPayload("hello", nil)
	resp, err := session.Call(context.Background(), "completions", payload)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := resp.Text(); got != "ok" {
		t.Errorf("Text() = %q, want ok", got)
	}
	if calls != 2 {
		t.Errorf("API called %d times, want exactly one retry (2 calls)", calls)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refresh called %d times, want exactly 1", tokens.refreshes)
	}
}

func TestSessionCallSecond401IsNotRetried(t *testing.T) {
	t.Parallel()

	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	tokens := &fakeTokens{token: "AT1", refreshed: "AT2"}
	session := NewSession(apiProvider(ts.URL), tokens, nil)

	payload, _ := BuildPayload("hello", nil)
	_, err := session.Call(context.Background(), "completions", payload)
	if !auth.IsAuthErrorType(err, auth.ErrNotAuthenticated) {
		t.Fatalf("Call() error = %v, want not-authenticated", err)
	}
	if calls != 2 {
		t.Errorf("API called %d times, want 2 (no further retries)", calls)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refresh called %d times, want exactly 1", tokens.refreshes)
	}
}

func TestSessionCallRefreshFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	refreshErr := auth.NewAuthenticationError(auth.ErrNotAuthenticated, fmt.Errorf("refresh token revoked"))
	tokens := &fakeTokens{token: "AT1", refreshErr: refreshErr}
	session := NewSession(apiProvider(ts.URL), tokens, nil)

	payload, _ := BuildPayload("hello", nil)
	_, err := session.Call(context.Background(), "completions", payload)
	if !auth.IsAuthErrorType(err, auth.ErrNotAuthenticated) {
		t.Fatalf("Call() error = %v, want not-authenticated", err)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refresh called %d times, want exactly 1", tokens.refreshes)
	}
}
