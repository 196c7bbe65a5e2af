package exec

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobrunner/internal/errs"
	"jobrunner/internal/gateway"
	"jobrunner/internal/model"
)

const (
	defaultSessionTimeoutMs = 300_000
	defaultPollIntervalMs   = 5_000
	pollBackoffFactor       = 1.2
	pollIntervalCapMs       = 15_000
)

// SessionInput is the input to RunSession (spec.md §4.5).
type SessionInput struct {
	Script         string
	JobID          string
	TimeoutMs      *int64
	PollIntervalMs *int64
}

// ResolvePrompt implements the extension-based prompt resolution in
// spec.md §4.5: a pure data-only transform, per the §9 redesign note,
// mirroring DefaultResolveCommand's shape for the script variant.
func ResolvePrompt(script string) (string, error) {
	switch strings.ToLower(filepath.Ext(script)) {
	case ".md", ".txt":
		b, err := os.ReadFile(script)
		if err != nil {
			return "", errs.Config("exec.ResolvePrompt", fmt.Errorf("read prompt file: %w", err))
		}
		return string(b), nil
	case ".js", ".mjs", ".cjs", ".ps1", ".cmd", ".bat":
		return "", errs.Config("exec.ResolvePrompt", fmt.Errorf("script extension %q names a script-type job, not session-type", filepath.Ext(script)))
	default:
		return script, nil
	}
}

// Session dispatches a job to the remote session gateway per spec.md
// §4.5.
type Session struct {
	Gateway gateway.Client
	Log     *zap.Logger
}

func NewSession(gw gateway.Client, log *zap.Logger) *Session {
	return &Session{Gateway: gw, Log: log}
}

// Run resolves the prompt, spawns a session, polls for completion with
// bounded exponential backoff, and retrieves token accounting.
func (s *Session) Run(ctx context.Context, in SessionInput) Result {
	start := time.Now()

	prompt, err := ResolvePrompt(in.Script)
	if err != nil {
		return Result{Status: model.RunError, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	timeoutMs := int64(defaultSessionTimeoutMs)
	if in.TimeoutMs != nil {
		timeoutMs = *in.TimeoutMs
	}
	pollMs := int64(defaultPollIntervalMs)
	if in.PollIntervalMs != nil {
		pollMs = *in.PollIntervalMs
	}

	spawn, err := s.Gateway.SpawnSession(ctx, prompt, gateway.SpawnOpts{
		Label:          in.JobID,
		Thinking:       "low",
		RunTimeoutSecs: timeoutMs / 1000,
	})
	if err != nil {
		return Result{Status: model.RunError, StderrTail: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	interval := float64(pollMs)
	deadline := start.Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		if time.Now().After(deadline) {
			return Result{
				Status:     model.RunTimeout,
				ResultMeta: spawn.SessionKey,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}

		complete, err := s.Gateway.IsSessionComplete(ctx, spawn.SessionKey)
		if err != nil {
			return Result{Status: model.RunError, StderrTail: err.Error(), DurationMs: time.Since(start).Milliseconds()}
		}
		if complete {
			break
		}

		select {
		case <-ctx.Done():
			return Result{Status: model.RunError, StderrTail: ctx.Err().Error(), DurationMs: time.Since(start).Milliseconds()}
		case <-time.After(time.Duration(interval) * time.Millisecond):
		}
		interval = math.Min(interval*pollBackoffFactor, float64(pollIntervalCapMs))
	}

	var tokens *int64
	if info, err := s.Gateway.GetSessionInfo(ctx, spawn.SessionKey); err == nil && info != nil {
		t := info.TotalTokens
		tokens = &t
	}

	return Result{
		Status:     model.RunOK,
		Tokens:     tokens,
		ResultMeta: spawn.SessionKey,
		StdoutTail: fmt.Sprintf("Session completed: %s", spawn.SessionKey),
		DurationMs: time.Since(start).Milliseconds(),
	}
}
