package llm

import (
	"context"

	"github.com/harunnryd/uketsuke/pkg/conversation"
)

// CompletionBackend is a language-model completion provider. Implementations
// are stateless and safe for concurrent use by many call sessions.
//
// Variants map CompletionOptions onto their own sampling controls and document
// any option they ignore or reinterpret; callers must not assume fidelity.
type CompletionBackend interface {
	Name() string
	CreateCompletion(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error)
}

// BackendFunc adapts a function to CompletionBackend.
type BackendFunc struct {
	ID string
	Fn func(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error)
}

func (b BackendFunc) Name() string { return b.ID }

func (b BackendFunc) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error) {
	return b.Fn(ctx, messages, opts)
}
