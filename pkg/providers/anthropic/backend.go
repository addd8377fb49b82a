package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 256
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Backend is the cloud CompletionBackend over the Anthropic Messages API.
//
// Option mapping:
//   - system turns are joined into the system field;
//   - max_tokens is mandatory upstream and defaults to 256 when unset;
//   - temperature, top_p and stop map directly;
//   - frequency_penalty and presence_penalty are ignored (unsupported).
//
// Consecutive turns of the same role are merged and a leading assistant
// greeting is preceded by an empty-prompt user turn, because the API requires
// strictly alternating turns starting with the user.
type Backend struct {
	client sdk.Client
	model  string
}

func NewBackend(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are layered by llm.WithRetry
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Backend{client: sdk.NewClient(opts...), model: cfg.Model}, nil
}

func (b *Backend) Name() string { return "anthropic" }

func (b *Backend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts llm.CompletionOptions) (string, error) {
	params, err := b.buildParams(messages, opts)
	if err != nil {
		return "", llm.InvalidResponse(b.Name(), err)
	}
	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", llm.InvalidResponse(b.Name(), errors.New("empty completion"))
	}
	return text, nil
}

func (b *Backend) buildParams(messages []conversation.Turn, opts llm.CompletionOptions) (sdk.MessageNewParams, error) {
	var system []string
	type turn struct {
		role conversation.Role
		text string
	}
	var turns []turn
	for _, m := range messages {
		if m.Role == conversation.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == m.Role {
			turns[n-1].text += "\n" + m.Content
			continue
		}
		turns = append(turns, turn{role: m.Role, text: m.Content})
	}
	if len(turns) == 0 {
		return sdk.MessageNewParams{}, errors.New("no conversation turns")
	}
	if turns[0].role == conversation.RoleAssistant {
		turns = append([]turn{{role: conversation.RoleUser, text: "（着信）"}}, turns...)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(b.model),
		MaxTokens: defaultMaxTokens,
	}
	for _, t := range turns {
		block := sdk.NewTextBlock(t.text)
		if t.role == conversation.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		params.MaxTokens = int64(*opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = sdk.Float(*opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = append([]string(nil), opts.Stop...)
	}
	return params, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return llm.FromStatus("anthropic", apiErr.StatusCode, err)
	}
	return llm.Unavailable("anthropic", err)
}
