package openai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
	goopenai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Backend is the cloud CompletionBackend over the OpenAI chat completions API
// (or any compatible server via BaseURL).
//
// Option mapping: every option is forwarded. The client drops zero-valued
// floats, so an explicitly set 0 is sent as the smallest positive float32,
// which the API treats as 0.
type Backend struct {
	client *goopenai.Client
	model  string
}

func NewBackend(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Backend{client: newClient(cfg), model: cfg.Model}, nil
}

func newClient(cfg Config) *goopenai.Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return goopenai.NewClientWithConfig(clientCfg)
}

func (b *Backend) Name() string { return "openai" }

func (b *Backend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts llm.CompletionOptions) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.buildRequest(messages, opts))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.InvalidResponse(b.Name(), errors.New("no choices"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", llm.InvalidResponse(b.Name(), errors.New("empty completion"))
	}
	return text, nil
}

func (b *Backend) buildRequest(messages []conversation.Turn, opts llm.CompletionOptions) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    b.model,
		Messages: make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = wireFloat(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = wireFloat(*opts.TopP)
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = wireFloat(*opts.FrequencyPenalty)
	}
	if opts.PresencePenalty != nil {
		req.PresencePenalty = wireFloat(*opts.PresencePenalty)
	}
	if opts.Stop != nil {
		req.Stop = append([]string(nil), opts.Stop...)
	}
	return req
}

func chatRole(r conversation.Role) string {
	switch r {
	case conversation.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}

func wireFloat(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus("openai", apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return llm.FromStatus("openai", reqErr.HTTPStatusCode, err)
	}
	return llm.Unavailable("openai", err)
}
