package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
)

const okBody = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
"content":[{"type":"text","text":"お名前をお伺いしてもよろしいでしょうか。"}],
"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":5}}`

func TestBackendCreateCompletion(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	b, err := NewBackend(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	msgs := []conversation.Turn{
		conversation.System("receptionist prompt"),
		conversation.Assistant("お電話ありがとうございます。"),
		conversation.User("田中さんっていますか？"),
	}
	opts := llm.CompletionOptions{Temperature: llm.Float(0), FrequencyPenalty: llm.Float(0.5)}
	got, err := b.CreateCompletion(context.Background(), msgs, opts)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if got != "お名前をお伺いしてもよろしいでしょうか。" {
		t.Fatalf("unexpected completion %q", got)
	}
	if req["max_tokens"].(float64) != defaultMaxTokens {
		t.Fatalf("expected default max_tokens, got %v", req["max_tokens"])
	}
	if v, ok := req["temperature"]; !ok || v.(float64) != 0 {
		t.Fatalf("expected explicit zero temperature, got %v", req["temperature"])
	}
	if _, ok := req["frequency_penalty"]; ok {
		t.Fatalf("frequency_penalty must not be forwarded")
	}
	wire := req["messages"].([]any)
	if len(wire) != 3 {
		t.Fatalf("expected user/assistant/user alternation, got %v", wire)
	}
	if wire[0].(map[string]any)["role"] != "user" || wire[1].(map[string]any)["role"] != "assistant" {
		t.Fatalf("unexpected roles %v", wire)
	}
}

func TestBuildParamsMergesSameRole(t *testing.T) {
	b := &Backend{model: DefaultModel}
	params, err := b.buildParams([]conversation.Turn{
		conversation.User("a"),
		conversation.User("b"),
		conversation.Assistant("c"),
	}, llm.CompletionOptions{MaxTokens: llm.Int(32), Stop: []string{"。"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected merged turns, got %d", len(params.Messages))
	}
	if params.MaxTokens != 32 || len(params.StopSequences) != 1 {
		t.Fatalf("unexpected params max=%d stop=%v", params.MaxTokens, params.StopSequences)
	}
	if _, err := b.buildParams([]conversation.Turn{conversation.System("only")}, llm.CompletionOptions{}); err == nil {
		t.Fatalf("expected error without dialogue turns")
	}
}

func TestClassify(t *testing.T) {
	if !llm.IsRateLimited(classify(&sdk.Error{StatusCode: 429})) {
		t.Fatalf("expected 429 rate limited")
	}
	if !llm.IsUnavailable(classify(&sdk.Error{StatusCode: 529})) {
		t.Fatalf("expected overloaded to be unavailable")
	}
	if !llm.IsRejected(classify(&sdk.Error{StatusCode: 401})) {
		t.Fatalf("expected bad credentials rejected")
	}
	if !llm.IsUnavailable(classify(errors.New("dial tcp"))) {
		t.Fatalf("expected network failure unavailable")
	}
	if !errors.Is(classify(context.Canceled), context.Canceled) {
		t.Fatalf("expected cancellation to pass through")
	}
}
