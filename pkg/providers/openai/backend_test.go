package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
)

func chatServer(t *testing.T, status int, body string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if capture != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, capture)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

const okBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":" お名前を伺ってもよろしいでしょうか。 "},"finish_reason":"stop"}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

func TestBackendCreateCompletion(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, http.StatusOK, okBody, &req)
	defer srv.Close()

	b, err := NewBackend(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	msgs := []conversation.Turn{
		conversation.System("prompt"),
		conversation.Assistant("お電話ありがとうございます。"),
		conversation.User("田中です"),
	}
	opts := llm.CompletionOptions{Temperature: llm.Float(0), MaxTokens: llm.Int(64)}
	got, err := b.CreateCompletion(context.Background(), msgs, opts)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if got != "お名前を伺ってもよろしいでしょうか。" {
		t.Fatalf("unexpected completion %q", got)
	}
	if _, ok := req["temperature"]; !ok {
		t.Fatalf("expected explicit zero temperature on the wire: %v", req)
	}
	if _, ok := req["top_p"]; ok {
		t.Fatalf("expected unset top_p omitted: %v", req)
	}
	if req["max_tokens"].(float64) != 64 {
		t.Fatalf("expected max_tokens 64, got %v", req["max_tokens"])
	}
	wire := req["messages"].([]any)
	if len(wire) != 3 || wire[0].(map[string]any)["role"] != "system" || wire[1].(map[string]any)["role"] != "assistant" {
		t.Fatalf("unexpected messages %v", wire)
	}
}

func TestBackendErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, llm.IsRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, llm.IsRejected},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, llm.IsRejected},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, llm.IsUnavailable},
		{"empty choices", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, llm.IsInvalidResponse},
		{"empty content", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`, llm.IsInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.status, tc.body, nil)
			defer srv.Close()
			b, _ := NewBackend(Config{APIKey: "sk-test", BaseURL: srv.URL})
			_, err := b.CreateCompletion(context.Background(), []conversation.Turn{conversation.User("x")}, llm.CompletionOptions{})
			if !tc.check(err) {
				t.Fatalf("unexpected error kind: %v", err)
			}
		})
	}
}

func TestRetryDoesNotRepeatRejectedRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	b, _ := NewBackend(Config{APIKey: "sk-test", BaseURL: srv.URL})
	retrying := llm.WithRetry(b, llm.RetryConfig{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }})
	_, err := retrying.CreateCompletion(context.Background(), []conversation.Turn{conversation.User("x")}, llm.CompletionOptions{})
	if !llm.IsRejected(err) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}

func TestBackendUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	b, _ := NewBackend(Config{APIKey: "sk-test", BaseURL: url})
	_, err := b.CreateCompletion(context.Background(), []conversation.Turn{conversation.User("x")}, llm.CompletionOptions{})
	if !llm.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNewBackendRequiresKey(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "ja" {
			t.Errorf("unexpected form model=%q language=%q", r.FormValue("model"), r.FormValue("language"))
		}
		if r.FormValue("prompt") != DefaultPrompt {
			t.Errorf("expected default prompt, got %q", r.FormValue("prompt"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"田中さんって言いますか？"}`))
	}))
	defer srv.Close()

	tr, err := NewTranscriber(TranscriberConfig{Config: Config{APIKey: "sk-test", BaseURL: srv.URL}})
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"), "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "田中さんって言いますか？" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if text, err := tr.Transcribe(context.Background(), nil, ""); err != nil || text != "" {
		t.Fatalf("expected empty audio to yield silence, got %q err=%v", text, err)
	}
}

func TestTranscriberFailureIsTranscriptionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid audio","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	tr, _ := NewTranscriber(TranscriberConfig{Config: Config{APIKey: "sk-test", BaseURL: srv.URL}})
	_, err := tr.Transcribe(context.Background(), []byte("garbage"), "whisper-1")
	if !stt.IsTranscriptionError(err) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
}

func TestTranscriberConfiguredModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		models = append(models, r.FormValue("model"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"はい"}`))
	}))
	defer srv.Close()

	tr, err := NewTranscriber(TranscriberConfig{Config: Config{APIKey: "sk-test", Model: "gpt-4o-transcribe", BaseURL: srv.URL}})
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	for _, override := range []string{"", "whisper-1"} {
		if _, err := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"), override); err != nil {
			t.Fatalf("transcribe: %v", err)
		}
	}
	if len(models) != 2 || models[0] != "gpt-4o-transcribe" || models[1] != "whisper-1" {
		t.Fatalf("unexpected models on the wire %v", models)
	}
}
