package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Discord messages are capped at 2000 characters; longer bodies are cut with
// an ellipsis rather than rejected by the API.
const discordContentLimit = 2000

// Discord posts messages through an incoming webhook. Webhook posts have no
// retrievable id, so receipts are empty.
type Discord struct {
	client     HTTPClient
	webhookURL string
	log        *slog.Logger
}

// NewDiscord creates a webhook sender.
func NewDiscord(client HTTPClient, webhookURL string, log *slog.Logger) (*Discord, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("missing discord webhook url")
	}
	return &Discord{client: client, webhookURL: webhookURL, log: log}, nil
}

// Send posts the payload body as one webhook message.
func (d *Discord) Send(ctx context.Context, p Payload) (Receipt, error) {
	content := p.Body
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit-3] + "..."
	}

	raw, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return Receipt{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return Receipt{}, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Receipt{}, transient(fmt.Errorf("post webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Receipt{}, transient(fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}

	d.log.Debug("posted discord message", "bytes", len(content))
	return Receipt{}, nil
}
