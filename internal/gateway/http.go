package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"jobrunner/internal/errs"
)

// HTTPClient is the default Client implementation: a thin JSON caller
// against the configured gateway.url, carrying an optional bearer token
// read from gateway.tokenPath (spec.md §6). No pack repo ships a generic
// outbound session-host SDK to ground a richer client on, so this stays
// intentionally thin per the "abstracted as a client interface" framing
// in spec.md §1.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, tokenPath string) (*HTTPClient, error) {
	c := &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
	if tokenPath != "" {
		b, err := os.ReadFile(tokenPath)
		if err != nil {
			return nil, errs.Config("gateway.NewHTTPClient", fmt.Errorf("read token file: %w", err))
		}
		c.Token = strings.TrimSpace(string(b))
	}
	return c, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) SpawnSession(ctx context.Context, prompt string, opts SpawnOpts) (*SpawnResult, error) {
	var out SpawnResult
	body := map[string]any{
		"prompt":            prompt,
		"label":             opts.Label,
		"thinking":          opts.Thinking,
		"runTimeoutSeconds": opts.RunTimeoutSecs,
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return nil, errs.Execution("gateway.SpawnSession", err)
	}
	return &out, nil
}

type sessionMessage struct {
	Role       string  `json:"role"`
	StopReason *string `json:"stopReason"`
}

// IsSessionComplete implements the completion predicate from spec.md
// §4.5: the latest message has role=assistant AND a non-null stop
// reason.
func (c *HTTPClient) IsSessionComplete(ctx context.Context, sessionKey string) (bool, error) {
	var messages []sessionMessage
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionKey+"/messages", nil, &messages); err != nil {
		return false, errs.Execution("gateway.IsSessionComplete", err)
	}
	if len(messages) == 0 {
		return false, nil
	}
	last := messages[len(messages)-1]
	return last.Role == "assistant" && last.StopReason != nil, nil
}

func (c *HTTPClient) GetSessionInfo(ctx context.Context, sessionKey string) (*SessionInfo, error) {
	var out SessionInfo
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionKey+"/info", nil, &out); err != nil {
		return nil, errs.Execution("gateway.GetSessionInfo", err)
	}
	return &out, nil
}
