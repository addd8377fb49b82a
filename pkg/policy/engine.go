package policy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/logging"
)

type Config struct {
	Company                string
	Options                llm.CompletionOptions
	NormalizePhoneReadback bool
}

func DefaultConfig() Config {
	return Config{
		Company:                DefaultCompany,
		Options:                llm.DefaultCompletionOptions(),
		NormalizePhoneReadback: true,
	}
}

// Engine produces the next assistant utterance by replaying the whole log
// behind the receptionist prompt. It carries no state between turns.
type Engine struct {
	backend llm.CompletionBackend
	cfg     Config
	prompt  string
	logger  *slog.Logger
}

func NewEngine(backend llm.CompletionBackend, cfg Config) *Engine {
	if cfg.Company == "" {
		cfg.Company = DefaultCompany
	}
	return &Engine{
		backend: backend,
		cfg:     cfg,
		prompt:  Prompt(cfg.Company),
		logger:  logging.NewComponentLogger(slog.Default(), "policy"),
	}
}

func (e *Engine) Greeting() string { return Greeting(e.cfg.Company) }

func (e *Engine) Next(ctx context.Context, history []conversation.Turn) (string, error) {
	msgs := make([]conversation.Turn, 0, len(history)+1)
	msgs = append(msgs, conversation.System(e.prompt))
	msgs = append(msgs, history...)

	reply, err := e.backend.CreateCompletion(ctx, msgs, e.cfg.Options)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", llm.InvalidResponse(e.backend.Name(), errors.New("empty reply"))
	}
	if e.cfg.NormalizePhoneReadback {
		if normalized := NormalizePhoneNumbers(reply); normalized != reply {
			e.logger.Debug("phone_readback_normalized")
			reply = normalized
		}
	}
	return reply, nil
}
