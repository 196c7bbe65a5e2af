package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewHTTPClientReadsTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("secret-token\n"), 0o644); err != nil {
		t.Fatalf("write token: %v", err)
	}
	c, err := NewHTTPClient("http://example.com/", path)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if c.Token != "secret-token" {
		t.Fatalf("Token = %q, want %q", c.Token, "secret-token")
	}
	if c.BaseURL != "http://example.com" {
		t.Fatalf("BaseURL = %q, want trailing slash trimmed", c.BaseURL)
	}
}

func TestNewHTTPClientMissingTokenFile(t *testing.T) {
	if _, err := NewHTTPClient("http://example.com", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("NewHTTPClient: expected ConfigError for missing token file")
	}
}

func TestSpawnSessionSendsBearerAndDecodesResult(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(SpawnResult{SessionKey: "sess-9", RunID: "run-9"})
	}))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "token")
	os.WriteFile(tokenPath, []byte("abc123"), 0o644)
	c, err := NewHTTPClient(srv.URL, tokenPath)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	res, err := c.SpawnSession(context.Background(), "summarize", SpawnOpts{Label: "nightly", RunTimeoutSecs: 600})
	if err != nil {
		t.Fatalf("SpawnSession: %v", err)
	}
	if res.SessionKey != "sess-9" || res.RunID != "run-9" {
		t.Fatalf("result = %+v, want sess-9/run-9", res)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("Authorization = %q, want Bearer abc123", gotAuth)
	}
	if gotPath != "/sessions" {
		t.Fatalf("path = %q, want /sessions", gotPath)
	}
	if gotBody["prompt"] != "summarize" || gotBody["label"] != "nightly" {
		t.Fatalf("body = %+v, want prompt/label set", gotBody)
	}
}

func TestSpawnSessionErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := c.SpawnSession(context.Background(), "x", SpawnOpts{}); err == nil {
		t.Fatalf("SpawnSession: expected an error on a 500 response")
	}
}

// IsSessionComplete's predicate: the latest message must have
// role=assistant AND a non-null stopReason.
func TestIsSessionCompletePredicate(t *testing.T) {
	cases := []struct {
		name     string
		messages string
		want     bool
	}{
		{"empty", `[]`, false},
		{"assistant with stop reason", `[{"role":"user","stopReason":null},{"role":"assistant","stopReason":"end_turn"}]`, true},
		{"assistant without stop reason", `[{"role":"assistant","stopReason":null}]`, false},
		{"last message from user", `[{"role":"assistant","stopReason":"end_turn"},{"role":"user","stopReason":null}]`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(c.messages))
			}))
			defer srv.Close()

			client, err := NewHTTPClient(srv.URL, "")
			if err != nil {
				t.Fatalf("NewHTTPClient: %v", err)
			}
			got, err := client.IsSessionComplete(context.Background(), "sess-1")
			if err != nil {
				t.Fatalf("IsSessionComplete: %v", err)
			}
			if got != c.want {
				t.Errorf("IsSessionComplete = %v, want %v", got, c.want)
			}
		})
	}
}

func TestGetSessionInfoDecodesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/sess-1/info" {
			t.Errorf("path = %q, want /sessions/sess-1/info", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SessionInfo{TotalTokens: 777, Model: "test-model"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	info, err := client.GetSessionInfo(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetSessionInfo: %v", err)
	}
	if info.TotalTokens != 777 || info.Model != "test-model" {
		t.Fatalf("info = %+v, want TotalTokens=777 Model=test-model", info)
	}
}
