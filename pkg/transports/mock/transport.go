package mock

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/transports"
)

var (
	ErrNotStarted = errors.New("mock transport: not started")
	ErrDraining   = errors.New("mock transport: draining")
	ErrNoCall     = errors.New("mock transport: no such call")
)

// Transport is an in-memory transport for local testing and integration.
// Callers dial in with Dial and speak with Send; everything the receptionist
// says is kept on the returned Conn.
type Transport struct {
	handler  transports.CallHandler
	metrics  http.Handler
	started  atomic.Bool
	draining atomic.Bool
	stopped  atomic.Bool

	mu    sync.Mutex
	calls map[string]*call.Orchestrator
}

func New(handler transports.CallHandler) *Transport {
	return &Transport{handler: handler, calls: make(map[string]*call.Orchestrator)}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.started.Store(true)
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Drain refuses new calls; active calls keep running.
func (t *Transport) Drain() { t.draining.Store(true) }

// Stop closes every call still connected.
func (t *Transport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.draining.Store(true)
	t.mu.Lock()
	calls := make([]*call.Orchestrator, 0, len(t.calls))
	for id, orch := range t.calls {
		calls = append(calls, orch)
		delete(t.calls, id)
	}
	t.mu.Unlock()
	for _, orch := range calls {
		orch.Close(context.Background(), call.ReasonDisconnect)
	}
	return nil
}

func (t *Transport) SetMetricsHandler(h http.Handler) { t.metrics = h }

// MetricsHandler is the handler the engine mounted, if any.
func (t *Transport) MetricsHandler() http.Handler { return t.metrics }

func (t *Transport) Handler() transports.CallHandler { return t.handler }

func (t *Transport) Started() bool  { return t.started.Load() }
func (t *Transport) Draining() bool { return t.draining.Load() }
func (t *Transport) Stopped() bool  { return t.stopped.Load() }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"transport": "mock"}
}

// Dial opens a call as if a caller had connected.
func (t *Transport) Dial(ctx context.Context, meta transports.CallMeta) (*Conn, *call.Orchestrator, error) {
	if !t.started.Load() {
		return nil, nil, ErrNotStarted
	}
	if t.draining.Load() {
		return nil, nil, ErrDraining
	}
	conn := &Conn{}
	orch, err := t.handler.NewCall(ctx, meta, conn)
	if err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	t.calls[meta.CallSID] = orch
	t.mu.Unlock()
	orch.Session().OnClose(func(string) {
		t.mu.Lock()
		delete(t.calls, meta.CallSID)
		t.mu.Unlock()
	})
	return conn, orch, nil
}

// Send delivers one caller utterance and waits for the turn to finish.
func (t *Transport) Send(ctx context.Context, callSID string, audio []byte) error {
	t.mu.Lock()
	orch, ok := t.calls[callSID]
	t.mu.Unlock()
	if !ok {
		return ErrNoCall
	}
	return orch.HandleAudio(ctx, audio)
}

// Hangup ends the call from the caller side.
func (t *Transport) Hangup(ctx context.Context, callSID string) {
	t.mu.Lock()
	orch, ok := t.calls[callSID]
	t.mu.Unlock()
	if ok {
		orch.Close(ctx, call.ReasonStop)
	}
}

func (t *Transport) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Conn records what the receptionist sent to one caller.
type Conn struct {
	mu    sync.Mutex
	texts []string
	acks  []call.Ack
}

func (c *Conn) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *Conn) Ack(_ context.Context, ack call.Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, ack)
}

func (c *Conn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *Conn) Acks() []call.Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call.Ack(nil), c.acks...)
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.Connection = (*Conn)(nil)
