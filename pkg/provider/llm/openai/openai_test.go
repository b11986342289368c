package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/jessy/pkg/provider/llm"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "llama-3.1-8b-instant",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there!"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

type capturedRequest struct {
	Path  string
	Auth  string
	Model string `json:"model"`

	Temperature *float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, status int, body string, hits *atomic.Int32, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		raw, _ := io.ReadAll(r.Body)
		if got != nil {
			_ = json.Unmarshal(raw, got)
			got.Path = r.URL.Path
			got.Auth = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_Success(t *testing.T) {
	var hits atomic.Int32
	var got capturedRequest
	srv := newServer(t, http.StatusOK, completionBody, &hits, &got)

	p, err := New("gsk-test", "", WithBaseURL(srv.URL+"/openai/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage("Hello")},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hi there!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hi there!")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	if !strings.HasSuffix(got.Path, "/chat/completions") {
		t.Errorf("path = %q, want suffix /chat/completions", got.Path)
	}
	if got.Auth != "Bearer gsk-test" {
		t.Errorf("Authorization = %q", got.Auth)
	}
	if got.Model != DefaultModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultModel)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","model":"m","choices":[]}`, &hits, nil)

	p, err := New("k", "m", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
}

func TestComplete_ServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, http.StatusServiceUnavailable, `{"error":{"message":"over capacity"}}`, &hits, nil)

	p, err := New("k", "m", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *openai.Error", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, err := New("k", "m")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		role    string
		wantErr bool
		check   func(oai.ChatCompletionMessageParamUnion) bool
	}{
		{llm.RoleSystem, false, func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfSystem != nil }},
		{llm.RoleUser, false, func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfUser != nil }},
		{llm.RoleAssistant, false, func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfAssistant != nil }},
		{"tool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got, err := convertMessage(llm.Message{Role: tt.role, Content: "x"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(got) {
				t.Errorf("wrong union member for role %q", tt.role)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty api key")
	}
	p, err := New("k", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
}
