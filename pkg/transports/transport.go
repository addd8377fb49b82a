package transports

import (
	"context"

	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/channel"
)

// Transport accepts caller connections and feeds them to calls.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// CallMeta describes the caller side of a connection.
type CallMeta struct {
	CallSID    string
	StreamID   string
	From       string
	RemoteAddr string
}

// Connection is the outbound half of a caller connection: utterances as
// text frames and turn acknowledgments.
type Connection interface {
	channel.TextSink
	Ack(ctx context.Context, ack call.Ack)
}

// CallHandler builds the orchestrator for a new connection.
type CallHandler interface {
	NewCall(ctx context.Context, meta CallMeta, conn Connection) (*call.Orchestrator, error)
}

type CallHandlerFunc func(ctx context.Context, meta CallMeta, conn Connection) (*call.Orchestrator, error)

func (f CallHandlerFunc) NewCall(ctx context.Context, meta CallMeta, conn Connection) (*call.Orchestrator, error) {
	return f(ctx, meta, conn)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
