package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
)

// Request is one recorded CreateCompletion call.
type Request struct {
	Messages []conversation.Turn
	Options  llm.CompletionOptions
}

// Reply is one scripted backend result.
type Reply struct {
	Text string
	Err  error
}

type BackendConfig struct {
	Name    string
	Replies []Reply
	// Responder answers when the script is exhausted.
	Responder func(messages []conversation.Turn, opts llm.CompletionOptions) (string, error)
}

// Backend is a scripted llm.CompletionBackend that records every request.
type Backend struct {
	mu       sync.Mutex
	cfg      BackendConfig
	next     int
	requests []Request
}

func NewBackend(cfg BackendConfig) *Backend {
	if cfg.Name == "" {
		cfg.Name = "mock_llm"
	}
	return &Backend{cfg: cfg}
}

// Echo returns a backend that answers with the last user turn.
func Echo() *Backend {
	return NewBackend(BackendConfig{Responder: func(messages []conversation.Turn, _ llm.CompletionOptions) (string, error) {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == conversation.RoleUser {
				return messages[i].Content, nil
			}
		}
		return "", nil
	}})
}

func (b *Backend) Name() string { return b.cfg.Name }

func (b *Backend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts llm.CompletionOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.requests = append(b.requests, Request{Messages: append([]conversation.Turn(nil), messages...), Options: opts})
	if b.next < len(b.cfg.Replies) {
		r := b.cfg.Replies[b.next]
		b.next++
		b.mu.Unlock()
		return r.Text, r.Err
	}
	responder := b.cfg.Responder
	b.mu.Unlock()
	if responder != nil {
		return responder(messages, opts)
	}
	return "mock response", nil
}

func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
