package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier posts plain-text notifications to a configured webhook URL.
// Used by the heartbeat scheduler and health checks. One retry on
// failure; the payload is length-capped to fit chat platform limits.
type Notifier struct {
	url      string
	maxChars int
	client   *http.Client
	logger   *zap.Logger
}

// New creates a notifier. An empty URL produces a no-op notifier.
func New(url string, maxChars int, logger *zap.Logger) *Notifier {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &Notifier{
		url:      url,
		maxChars: maxChars,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Send posts text to the webhook, truncating to the configured cap.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.url == "" {
		return nil
	}
	if len(text) > n.maxChars {
		text = text[:n.maxChars-3] + "..."
	}

	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = n.post(ctx, body)
	if err == nil {
		return nil
	}
	n.logger.Warn("webhook post failed, retrying once", zap.Error(err))
	if err := n.post(ctx, body); err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
