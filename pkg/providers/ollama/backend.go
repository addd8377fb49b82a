package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
)

const (
	DefaultBaseURL        = "http://localhost:11434"
	DefaultMaxTemperature = 0.1
)

type Config struct {
	BaseURL string
	Model   string
	// Deterministic forces greedy-leaning decoding regardless of the requested options.
	Deterministic  bool
	MaxTemperature float64
	// NumPredictCap bounds num_predict when > 0.
	NumPredictCap int
	Client        *http.Client
}

// Backend is the local CompletionBackend for an Ollama-style model server.
//
// Option mapping:
//   - max_tokens -> num_predict (capped by NumPredictCap);
//   - temperature, top_p, frequency_penalty, presence_penalty and stop map
//     to the same-named options;
//   - with Deterministic on, top_k is forced to 1, temperature is clamped to
//     MaxTemperature (and set to it when unset) and penalize_newline is on.
type Backend struct {
	cfg    Config
	client *http.Client
}

func NewBackend(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ollama: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTemperature <= 0 {
		cfg.MaxTemperature = DefaultMaxTemperature
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Backend{cfg: cfg, client: client}, nil
}

func (b *Backend) Name() string { return "ollama" }

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Error   string       `json:"error"`
}

func (b *Backend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts llm.CompletionOptions) (string, error) {
	payload := chatRequest{
		Model:    b.cfg.Model,
		Messages: make([]chatMessage, 0, len(messages)),
		Options:  b.mapOptions(opts),
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", llm.Unavailable(b.Name(), fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", llm.Unavailable(b.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", llm.Unavailable(b.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", llm.FromStatus(b.Name(), resp.StatusCode, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", llm.InvalidResponse(b.Name(), fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", llm.Unavailable(b.Name(), errors.New(out.Error))
	}
	if out.Message == nil || strings.TrimSpace(out.Message.Content) == "" {
		return "", llm.InvalidResponse(b.Name(), errors.New("empty completion"))
	}
	return strings.TrimSpace(out.Message.Content), nil
}

func (b *Backend) mapOptions(opts llm.CompletionOptions) map[string]any {
	out := map[string]any{}
	for k, v := range opts.Projection() {
		switch k {
		case llm.OptMaxTokens:
			n := v.(int)
			if b.cfg.NumPredictCap > 0 && (n <= 0 || n > b.cfg.NumPredictCap) {
				n = b.cfg.NumPredictCap
			}
			out["num_predict"] = n
		default:
			out[k] = v
		}
	}
	if _, ok := out["num_predict"]; !ok && b.cfg.NumPredictCap > 0 {
		out["num_predict"] = b.cfg.NumPredictCap
	}
	if b.cfg.Deterministic {
		out["top_k"] = 1
		out["penalize_newline"] = true
		temp, ok := out[llm.OptTemperature].(float64)
		if !ok || temp > b.cfg.MaxTemperature {
			out[llm.OptTemperature] = b.cfg.MaxTemperature
		}
	}
	return out
}
