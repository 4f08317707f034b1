package deliver

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// scriptedTransport replies per URL path and records the decoded form bodies.
type scriptedTransport struct {
	responses map[string]scriptedResponse
	forms     map[string]url.Values
	requests  []*http.Request
}

type scriptedResponse struct {
	status int
	body   string
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		form, _ := url.ParseQuery(string(raw))
		if s.forms == nil {
			s.forms = map[string]url.Values{}
		}
		s.forms[req.URL.Path] = form
	}
	resp, ok := s.responses[req.URL.Path]
	if !ok {
		resp = scriptedResponse{status: 404, body: "not found"}
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func redditTestConfig() RedditConfig {
	return RedditConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		Username:     "bot",
		Password:     "hunter2",
		UserAgent:    "vcbot/1.0",
		Subreddit:    "fo4mods",
	}
}

func TestRedditSend(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]scriptedResponse{
		"/api/v1/access_token": {status: 200, body: `{"access_token":"tok123","expires_in":3600}`},
		"/api/submit": {status: 200, body: `{"json":{"errors":[],"data":{"id":"1abcd","name":"t3_1abcd","url":"https://www.reddit.com/r/fo4mods/comments/1abcd/"}}}`},
	}}

	r, err := NewReddit(transport, redditTestConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new reddit: %v", err)
	}

	receipt, err := r.Send(context.Background(), Payload{Title: "A Title", Body: "A body"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.PostID != "1abcd" {
		t.Errorf("post id: got %q", receipt.PostID)
	}
	if receipt.URL != "https://www.reddit.com/r/fo4mods/comments/1abcd/" {
		t.Errorf("post url: got %q", receipt.URL)
	}

	tokenForm := transport.forms["/api/v1/access_token"]
	if tokenForm.Get("grant_type") != "password" || tokenForm.Get("username") != "bot" {
		t.Errorf("unexpected token form: %v", tokenForm)
	}

	submitForm := transport.forms["/api/submit"]
	if submitForm.Get("sr") != "fo4mods" || submitForm.Get("kind") != "self" {
		t.Errorf("unexpected submit form: %v", submitForm)
	}
	if submitForm.Get("title") != "A Title" || submitForm.Get("text") != "A body" {
		t.Errorf("payload not submitted: %v", submitForm)
	}

	var submitReq *http.Request
	for _, req := range transport.requests {
		if req.URL.Path == "/api/submit" {
			submitReq = req
		}
	}
	if submitReq == nil {
		t.Fatal("submit request not issued")
	}
	if got := submitReq.Header.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("authorization header: got %q", got)
	}
	if got := submitReq.Header.Get("User-Agent"); got != "vcbot/1.0" {
		t.Errorf("user agent: got %q", got)
	}
}

func TestRedditTokenCached(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]scriptedResponse{
		"/api/v1/access_token": {status: 200, body: `{"access_token":"tok123","expires_in":3600}`},
		"/api/submit":          {status: 200, body: `{"json":{"errors":[],"data":{"id":"x","url":"u"}}}`},
	}}

	r, err := NewReddit(transport, redditTestConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new reddit: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Send(context.Background(), Payload{Title: "t", Body: "b"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	tokenCalls := 0
	for _, req := range transport.requests {
		if req.URL.Path == "/api/v1/access_token" {
			tokenCalls++
		}
	}
	if tokenCalls != 1 {
		t.Errorf("expected 1 token fetch, got %d", tokenCalls)
	}
}

func TestRedditServerErrorIsTransient(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]scriptedResponse{
		"/api/v1/access_token": {status: 200, body: `{"access_token":"tok123","expires_in":3600}`},
		"/api/submit":          {status: 503, body: "unavailable"},
	}}

	r, err := NewReddit(transport, redditTestConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new reddit: %v", err)
	}

	_, err = r.Send(context.Background(), Payload{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("503 should be transient, got %v", err)
	}
}

func TestRedditAPIErrorIsPermanent(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]scriptedResponse{
		"/api/v1/access_token": {status: 200, body: `{"access_token":"tok123","expires_in":3600}`},
		"/api/submit":          {status: 200, body: `{"json":{"errors":[["SUBREDDIT_NOTALLOWED","not allowed","sr"]]}}`},
	}}

	r, err := NewReddit(transport, redditTestConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new reddit: %v", err)
	}

	_, err = r.Send(context.Background(), Payload{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("api rejection should be permanent, got %v", err)
	}
}

func TestNewRedditMissingCredentials(t *testing.T) {
	cfg := redditTestConfig()
	cfg.Username = ""
	cfg.Password = ""

	if _, err := NewReddit(&scriptedTransport{}, cfg, discardLogger()); err == nil {
		t.Fatal("expected error without password or refresh token")
	}

	cfg.RefreshToken = "refresh123"
	if _, err := NewReddit(&scriptedTransport{}, cfg, discardLogger()); err != nil {
		t.Fatalf("refresh token should satisfy credentials: %v", err)
	}
}
