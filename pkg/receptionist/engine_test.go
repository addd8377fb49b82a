package receptionist

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/channel"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/policy"
	"github.com/harunnryd/uketsuke/pkg/providers/mock"
	"github.com/harunnryd/uketsuke/pkg/revision"
	"github.com/harunnryd/uketsuke/pkg/transports"
	mocktransport "github.com/harunnryd/uketsuke/pkg/transports/mock"
)

const absentReply = "田中はただいま席を外しております。折り返しご連絡いたしますので、お名前とお電話番号をお伺いできますか。"

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) WriteText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *lineSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// receptionistBackend echoes revision requests and answers policy requests
// with a fixed reply.
func receptionistBackend(reply string) *mock.Backend {
	return mock.NewBackend(mock.BackendConfig{Responder: func(messages []conversation.Turn, _ llm.CompletionOptions) (string, error) {
		if len(messages) > 0 && messages[0].Content == revision.SystemPrompt {
			return messages[len(messages)-1].Content, nil
		}
		return reply, nil
	}})
}

type fixture struct {
	backend   *mock.Backend
	transport *mocktransport.Transport
	registry  *ProviderRegistry
}

func newFixture(reply string) *fixture {
	f := &fixture{backend: receptionistBackend(reply)}
	reg := NewProviderRegistry()
	reg.RegisterLLM("mock", func(VendorConfig) (llm.CompletionBackend, error) { return f.backend, nil })
	reg.RegisterSTT("passthrough", func(VendorConfig) (stt.Transcriber, error) { return mock.NewTranscriber(), nil })
	reg.RegisterTTS("mock", func(VendorConfig) (tts.Synthesizer, error) { return mock.NewSynthesizer(), nil })
	reg.RegisterTransport("mock", func(_ map[string]any, h transports.CallHandler) (transports.Transport, error) {
		f.transport = mocktransport.New(h)
		return f.transport, nil
	})
	f.registry = reg
	return f
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Server.Provider = "mock"
	cfg.Vendors.LLM.Provider = "mock"
	cfg.Vendors.STT.Provider = "passthrough"
	cfg.Vendors.TTS.Provider = "mock"
	cfg.ShutdownTimeoutMS = 50
	cfg.LogLevel = "error"
	cfg.Privacy.RedactPII = false
	return cfg
}

func TestEngineRunsCallEndToEnd(t *testing.T) {
	f := newFixture(absentReply)
	sink := &lineSink{}
	e, err := NewEngine(EngineOptions{Config: testConfig(t), Providers: f.registry, Sink: sink, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	orch, err := e.NewCall(ctx, transports.CallMeta{CallSID: "CA1"}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := orch.HandleAudio(ctx, []byte("田中さんっていますか？")); err != nil {
		t.Fatalf("handle audio: %v", err)
	}

	lines := sink.Lines()
	if len(lines) != 2 || lines[0] != policy.Greeting(policy.DefaultCompany) || lines[1] != absentReply {
		t.Fatalf("unexpected utterances %q", lines)
	}
	turns := orch.Session().Log.Turns()
	if len(turns) != 3 || turns[1].Role != conversation.RoleUser || turns[1].Content != "田中さんっていますか？" {
		t.Fatalf("unexpected log %+v", turns)
	}
	// one revision and one policy request
	if f.backend.Calls() != 2 {
		t.Fatalf("expected 2 completion calls, got %d", f.backend.Calls())
	}
	if e.Registry().Count() != 1 {
		t.Fatalf("expected 1 active call, got %d", e.Registry().Count())
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.Registry().Count() != 0 || orch.Session().CloseReason() != call.ReasonShutdown {
		t.Fatalf("expected call closed by shutdown, reason %q", orch.Session().CloseReason())
	}
	if _, err := e.NewCall(ctx, transports.CallMeta{CallSID: "CA2"}, nil); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected draining error, got %v", err)
	}
}

func TestEngineWithoutGreetingAndRevision(t *testing.T) {
	f := newFixture("ご用件をお伺いします。")
	cfg := testConfig(t)
	cfg.Conversation.SeedGreeting = false
	cfg.Revision.Enabled = false
	sink := &lineSink{}
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Sink: sink, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()

	orch, err := e.NewCall(context.Background(), transports.CallMeta{}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := orch.HandleAudio(context.Background(), []byte("もしもし")); err != nil {
		t.Fatalf("handle audio: %v", err)
	}
	if got := sink.Lines(); len(got) != 1 || got[0] != "ご用件をお伺いします。" {
		t.Fatalf("unexpected utterances %q", got)
	}
	if f.backend.Calls() != 1 {
		t.Fatalf("expected only the policy request, got %d", f.backend.Calls())
	}
	if n := orch.Session().Log.Len(); n != 2 {
		t.Fatalf("expected unseeded log with 2 turns, got %d", n)
	}
}

func TestEngineRevisionOnSeparateBackend(t *testing.T) {
	f := newFixture(absentReply)
	reviser := mock.NewBackend(mock.BackendConfig{Name: "reviser", Replies: []mock.Reply{{Text: "田中さんっていますか？"}}})
	f.registry.RegisterLLM("local", func(vc VendorConfig) (llm.CompletionBackend, error) {
		if vc.Settings["model"] != "small" {
			t.Errorf("expected revision settings, got %v", vc.Settings)
		}
		return reviser, nil
	})
	cfg := testConfig(t)
	cfg.Revision.LLM = VendorConfig{Provider: "local", Settings: map[string]any{"model": "small"}}
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Sink: &lineSink{}, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()

	orch, err := e.NewCall(context.Background(), transports.CallMeta{}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := orch.HandleAudio(context.Background(), []byte("田中さんって言いますか？")); err != nil {
		t.Fatalf("handle audio: %v", err)
	}
	if reviser.Calls() != 1 || f.backend.Calls() != 1 {
		t.Fatalf("expected one call per backend, got reviser=%d policy=%d", reviser.Calls(), f.backend.Calls())
	}
	if got := orch.Session().Log.Turns()[1].Content; got != "田中さんっていますか？" {
		t.Fatalf("expected revised transcript in log, got %q", got)
	}
}

func TestEngineRunWiresTransport(t *testing.T) {
	f := newFixture(absentReply)
	e, err := NewEngine(EngineOptions{Config: testConfig(t), Providers: f.registry, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if f.transport.Handler() != e {
		t.Fatalf("expected engine as call handler")
	}
	if f.transport.MetricsHandler() == nil {
		t.Fatalf("expected metrics handler mounted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if !f.transport.Started() || !f.transport.Draining() || !f.transport.Stopped() {
		t.Fatalf("expected transport started, drained and stopped")
	}
}

func TestEngineServesCallsOverTransport(t *testing.T) {
	f := newFixture(absentReply)
	cfg := testConfig(t)
	cfg.Revision.Enabled = false
	cfg.Observability.AuditPath = filepath.Join(t.TempDir(), "events.jsonl")
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for !f.transport.Started() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn, orch, err := f.transport.Dial(ctx, transports.CallMeta{CallSID: "CA9", From: "+819012345678"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := f.transport.Send(ctx, "CA9", []byte("田中さんいますか")); err != nil {
		t.Fatalf("send: %v", err)
	}
	texts := conn.Texts()
	if len(texts) != 2 || texts[0] != e.Greeting() || texts[1] != absentReply {
		t.Fatalf("expected greeting then reply on the connection, got %v", texts)
	}
	if acks := conn.Acks(); len(acks) != 1 || acks[0].Status != call.AckSpoken {
		t.Fatalf("unexpected acks %+v", acks)
	}
	if e.Registry().Count() != 1 {
		t.Fatalf("expected one active call")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if !orch.Session().Closed() || e.Registry().Count() != 0 {
		t.Fatalf("expected call closed on shutdown")
	}
	data, err := os.ReadFile(cfg.Observability.AuditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(data), `"session_end"`) {
		t.Fatalf("expected session_end recorded before observers closed:\n%s", data)
	}
}

func TestEngineAuditTrail(t *testing.T) {
	f := newFixture(absentReply)
	cfg := testConfig(t)
	cfg.Observability.AuditPath = filepath.Join(t.TempDir(), "audit", "events.jsonl")
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Sink: &lineSink{}, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	orch, err := e.NewCall(context.Background(), transports.CallMeta{}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := orch.HandleAudio(context.Background(), []byte("田中さんっていますか？")); err != nil {
		t.Fatalf("handle audio: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	data, err := os.ReadFile(cfg.Observability.AuditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	for _, want := range []string{"transcript_revised", "session_start", "session_end"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected %s in audit trail:\n%s", want, data)
		}
	}
}

func TestEngineAudioChannel(t *testing.T) {
	f := newFixture(absentReply)
	cfg := testConfig(t)
	cfg.Channel.Provider = ChannelAudio
	dev := &recordingDevice{}
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Device: dev, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()

	orch, err := e.NewCall(context.Background(), transports.CallMeta{}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if orch.Session().Channel.Name() != "audio" {
		t.Fatalf("expected audio channel, got %s", orch.Session().Channel.Name())
	}
	if dev.Opened() != 1 {
		t.Fatalf("expected greeting played once, got %d", dev.Opened())
	}
}

func TestEngineUnknownProvider(t *testing.T) {
	f := newFixture(absentReply)
	cfg := testConfig(t)
	cfg.Vendors.LLM.Provider = "nope"
	_, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, WithoutTransport: true, Banner: io.Discard})
	if err == nil || !strings.Contains(err.Error(), "llm provider not registered: nope") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type recordingDevice struct {
	mu     sync.Mutex
	opened int
}

func (d *recordingDevice) Open(int, int) (channel.Stream, error) {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return nopStream{}, nil
}

func (d *recordingDevice) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

type nopStream struct{}

func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Drain(context.Context) error { return nil }
func (nopStream) Stop() error                 { return nil }
func (nopStream) Close() error                { return nil }

func TestEngineLeavesModelToTranscriber(t *testing.T) {
	f := newFixture(absentReply)
	stub := mock.NewTranscriber()
	f.registry.RegisterSTT("deepgram", func(vc VendorConfig) (stt.Transcriber, error) {
		if vc.Settings["model"] != "nova-2" {
			t.Errorf("expected vendor settings handed to the transcriber, got %v", vc.Settings)
		}
		return stub, nil
	})
	cfg := testConfig(t)
	cfg.Vendors.STT = VendorConfig{Provider: "deepgram", Settings: map[string]any{"model": "nova-2"}}
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: f.registry, Sink: &lineSink{}, WithoutTransport: true, Banner: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()
	orch, err := e.NewCall(context.Background(), transports.CallMeta{}, nil)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := orch.HandleAudio(context.Background(), []byte("田中さんいますか")); err != nil {
		t.Fatalf("handle audio: %v", err)
	}
	if models := stub.Models(); len(models) != 1 || models[0] != "" {
		t.Fatalf("expected no model override from the engine, got %q", models)
	}
}
