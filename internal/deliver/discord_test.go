package deliver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type captureTransport struct {
	status int
	err    error
	body   string
}

func (c *captureTransport) Do(req *http.Request) (*http.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	raw, _ := io.ReadAll(req.Body)
	c.body = string(raw)
	return &http.Response{
		StatusCode: c.status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestDiscordSend(t *testing.T) {
	transport := &captureTransport{status: 204}
	d, err := NewDiscord(transport, "https://discord.com/api/webhooks/1/abc", discardLogger())
	if err != nil {
		t.Fatalf("new discord: %v", err)
	}

	if _, err := d.Send(context.Background(), Payload{Title: "t", Body: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(transport.body), &payload); err != nil {
		t.Fatalf("decode webhook body: %v", err)
	}
	if payload["content"] != "hello" {
		t.Errorf("content: got %q", payload["content"])
	}
}

func TestDiscordTruncatesLongBody(t *testing.T) {
	transport := &captureTransport{status: 204}
	d, err := NewDiscord(transport, "https://discord.com/api/webhooks/1/abc", discardLogger())
	if err != nil {
		t.Fatalf("new discord: %v", err)
	}

	long := strings.Repeat("x", discordContentLimit+100)
	if _, err := d.Send(context.Background(), Payload{Body: long}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(transport.body), &payload); err != nil {
		t.Fatalf("decode webhook body: %v", err)
	}
	if len(payload["content"]) != discordContentLimit {
		t.Errorf("content length: got %d, want %d", len(payload["content"]), discordContentLimit)
	}
	if !strings.HasSuffix(payload["content"], "...") {
		t.Error("truncated content missing ellipsis")
	}
}

func TestDiscordRateLimitIsTransient(t *testing.T) {
	transport := &captureTransport{status: 429}
	d, err := NewDiscord(transport, "https://discord.com/api/webhooks/1/abc", discardLogger())
	if err != nil {
		t.Fatalf("new discord: %v", err)
	}

	_, err = d.Send(context.Background(), Payload{Body: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}
}

func TestNewDiscordRequiresWebhook(t *testing.T) {
	if _, err := NewDiscord(&captureTransport{}, "", discardLogger()); err == nil {
		t.Fatal("expected error without webhook url")
	}
}
