// Package gateway abstracts the remote "session" host named in spec.md
// §1 as an external collaborator. Client is the two-way contract the
// session executor depends on; HTTPClient is the thin net/http default
// implementation behind it.
package gateway

import "context"

// SpawnOpts carries the options the session executor passes to
// spawnSession (spec.md §4.5).
type SpawnOpts struct {
	Label          string
	Thinking       string
	RunTimeoutSecs int64
}

// SpawnResult is the outcome of spawning a session.
type SpawnResult struct {
	SessionKey string
	RunID      string
}

// SessionInfo is the token accounting retrieved after completion.
type SessionInfo struct {
	TotalTokens    int64
	Model          string
	TranscriptPath string
}

// Client is the remote session-gateway contract (spec.md §4.5, §1).
type Client interface {
	SpawnSession(ctx context.Context, prompt string, opts SpawnOpts) (*SpawnResult, error)
	IsSessionComplete(ctx context.Context, sessionKey string) (bool, error)
	GetSessionInfo(ctx context.Context, sessionKey string) (*SessionInfo, error)
}
