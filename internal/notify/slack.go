package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SlackWebhook is the default Notifier: it posts the formatted message to
// a webhook URL read from notifications.slackTokenPath. No pack repo
// ships a generic outbound-webhook client to ground a dependency on (see
// SPEC_FULL.md DOMAIN STACK), so this stays a thin net/http caller behind
// the Notifier interface, matching the "abstracted as a two-method
// interface" framing in spec.md §1.
type SlackWebhook struct {
	webhookURL string
	http       *http.Client
	log        *zap.Logger
	warnedOnce bool
}

func NewSlackWebhook(tokenPath string, log *zap.Logger) *SlackWebhook {
	s := &SlackWebhook{http: &http.Client{Timeout: 10 * time.Second}, log: log}
	if tokenPath == "" {
		return s
	}
	b, err := os.ReadFile(tokenPath)
	if err != nil {
		log.Warn("notify: could not read slack token file", zap.String("path", tokenPath), zap.Error(err))
		return s
	}
	s.webhookURL = strings.TrimSpace(string(b))
	return s
}

func (s *SlackWebhook) post(ctx context.Context, text string) error {
	if s.webhookURL == "" {
		if !s.warnedOnce {
			s.log.Warn("notify: no slack webhook configured, dropping notification")
			s.warnedOnce = true
		}
		return nil
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// NotifySuccess implements the exact message format from spec.md §4.9.
func (s *SlackWebhook) NotifySuccess(ctx context.Context, jobName string, durationMs int64, channel string) error {
	text := fmt.Sprintf("✅ *%s* completed (%ds)", jobName, durationMs/1000)
	return s.post(ctx, text)
}

// NotifyFailure implements the exact message format from spec.md §4.9.
func (s *SlackWebhook) NotifyFailure(ctx context.Context, jobName string, durationMs int64, errMsg string, channel string) error {
	text := fmt.Sprintf("⚠️ *%s* failed (%ds)", jobName, durationMs/1000)
	if errMsg != "" {
		text += ": " + errMsg
	}
	return s.post(ctx, text)
}
