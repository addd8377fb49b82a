package receptionist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/channel"
	"github.com/harunnryd/uketsuke/pkg/configutil"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/logging"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/observers"
	"github.com/harunnryd/uketsuke/pkg/policy"
	"github.com/harunnryd/uketsuke/pkg/redact"
	"github.com/harunnryd/uketsuke/pkg/resilience"
	"github.com/harunnryd/uketsuke/pkg/revision"
	"github.com/harunnryd/uketsuke/pkg/runner"
	"github.com/harunnryd/uketsuke/pkg/transports"
)

const (
	ChannelText  = "text"
	ChannelAudio = "audio"
)

// ErrDraining rejects calls that arrive after shutdown began.
var ErrDraining = errors.New("receptionist: draining")

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Device replaces the local speaker of the audio channel.
	Device channel.OutputDevice
	// Sink receives text-channel utterances of calls without a connection.
	Sink channel.TextSink
	// WithoutTransport builds an engine for in-process calls only.
	WithoutTransport bool
	// Banner receives the startup banner; nil keeps stdout.
	Banner io.Writer
}

// Engine owns the shared backends and builds one orchestrator per call.
type Engine struct {
	cfg         Config
	providers   *ProviderRegistry
	backend     llm.CompletionBackend
	transcriber stt.Transcriber
	synth       tts.Synthesizer
	reviser     call.Reviser
	policy      *policy.Engine
	greeting    string
	registry    *call.Registry
	transport   transports.Transport
	runner      *runner.LifecycleRunner
	obs         metrics.Observer
	asyncObs    *metrics.AsyncObserver
	prom        *metrics.PrometheusObserver
	audit       *metrics.JSONLObserver
	device      channel.OutputDevice
	sink        channel.TextSink
	logger      *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("receptionist_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"channel", cfg.Channel.Provider,
		"transport", cfg.Server.Provider,
	)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	e := &Engine{
		cfg:       cfg,
		providers: providers,
		registry:  call.NewRegistry(),
		device:    opts.Device,
		sink:      opts.Sink,
		logger:    logging.NewComponentLogger(slog.Default(), "receptionist"),
	}
	if err := e.buildObservers(); err != nil {
		return nil, err
	}
	if err := e.buildBackends(); err != nil {
		e.closeObservers()
		return nil, err
	}
	if !opts.WithoutTransport {
		transport, err := providers.BuildTransport(cfg.Server, e)
		if err != nil {
			e.closeObservers()
			return nil, err
		}
		if mh, ok := transport.(interface{ SetMetricsHandler(http.Handler) }); ok && e.prom != nil {
			mh.SetMetricsHandler(e.prom.Handler())
		}
		e.transport = transport
	}

	shutdown := configutil.Millis(cfg.ShutdownTimeoutMS)
	if shutdown <= 0 {
		shutdown = 20 * time.Second
	}
	e.runner = runner.NewLifecycleRunner(e.drainer(shutdown), e.hooks(), shutdown+10*time.Second)
	if opts.Banner != nil {
		e.runner.SetBanner(opts.Banner)
	}
	return e, nil
}

func (e *Engine) buildObservers() error {
	obs := e.cfg.Observability
	logObs := metrics.Observer(observers.NewLoggerObserver(logging.NewComponentLogger(slog.Default(), "metrics")))
	if obs.SampleRate < 1 {
		logObs = metrics.NewSamplingObserver(logObs, obs.SampleRate,
			metrics.EventSessionStart, metrics.EventSessionEnd, metrics.EventTranscriptRevised)
	}
	multi := observers.NewMultiObserver(logObs,
		observers.NewLatencyObserver(logging.NewComponentLogger(slog.Default(), "latency")))
	if obs.MetricsEnabled {
		e.prom = metrics.NewPrometheusObserver(nil)
		multi.Add(e.prom)
	}
	if path := strings.TrimSpace(obs.AuditPath); path != "" {
		audit, err := metrics.OpenJSONLObserver(path)
		if err != nil {
			return err
		}
		e.audit = audit
		multi.Add(audit)
	}
	buffer := obs.EventBuffer
	if buffer <= 0 {
		buffer = 2048
	}
	e.asyncObs = metrics.NewAsyncObserver(multi, buffer)
	e.obs = e.asyncObs
	return nil
}

func (e *Engine) buildBackends() error {
	cfg := e.cfg
	backend, err := e.providers.BuildLLM(cfg.Vendors.LLM)
	if err != nil {
		return err
	}
	e.backend = wrapCompletion(backend, cfg.Resilience.Completion, e.obs)

	transcriber, err := e.providers.BuildSTT(cfg.Vendors.STT)
	if err != nil {
		return err
	}
	e.transcriber = wrapTranscription(transcriber, cfg.Resilience.Transcription, e.obs)

	if channelKind(cfg.Channel.Provider) == ChannelAudio {
		synth, err := e.providers.BuildTTS(cfg.Vendors.TTS)
		if err != nil {
			return err
		}
		e.synth = synth
		if e.device == nil {
			e.device = channel.NewOtoDevice()
		}
	}

	if cfg.Revision.Enabled {
		revBackend := e.backend
		if strings.TrimSpace(cfg.Revision.LLM.Provider) != "" {
			b, err := e.providers.BuildLLM(cfg.Revision.LLM)
			if err != nil {
				return fmt.Errorf("revision: %w", err)
			}
			revBackend = wrapCompletion(b, cfg.Resilience.Completion, e.obs)
		}
		revCfg := revision.DefaultConfig()
		revCfg.ContextTurns = cfg.Revision.ContextTurns
		if cfg.Revision.MinLengthRatio > 0 {
			revCfg.MinLengthRatio = cfg.Revision.MinLengthRatio
		}
		revCfg.Options = revCfg.Options.Merge(cfg.Revision.Options)
		stage := revision.NewStage(revBackend, revCfg)
		stage.SetObserver(e.obs)
		e.reviser = stage
	}

	polCfg := policy.DefaultConfig()
	if company := strings.TrimSpace(cfg.Policy.Company); company != "" {
		polCfg.Company = company
	}
	polCfg.Options = polCfg.Options.Merge(cfg.Policy.Options)
	polCfg.NormalizePhoneReadback = cfg.Policy.NormalizePhoneReadback
	e.policy = policy.NewEngine(e.backend, polCfg)

	if cfg.Conversation.SeedGreeting {
		e.greeting = strings.TrimSpace(cfg.Conversation.Greeting)
		if e.greeting == "" {
			e.greeting = e.policy.Greeting()
		}
	}
	return nil
}

// wrapCompletion layers retry over the breaker over the per-call timeout.
func wrapCompletion(b llm.CompletionBackend, r StageResilience, obs metrics.Observer) llm.CompletionBackend {
	b = llm.WithTimeout(b, configutil.Millis(r.TimeoutMS))
	if r.BreakerThreshold > 0 {
		cb := llm.WithCircuitBreaker(b, resilience.NewCircuitBreaker(r.BreakerThreshold, configutil.Millis(r.BreakerCooldownMS)))
		cb.SetObserver(obs)
		b = cb
	}
	if r.MaxAttempts > 0 {
		rb := llm.WithRetry(b, llm.RetryConfig{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   configutil.Millis(r.BaseDelayMS),
			MaxDelay:    configutil.Millis(r.MaxDelayMS),
			Jitter:      r.Jitter,
		})
		rb.SetObserver(obs)
		b = rb
	}
	return b
}

func wrapTranscription(t stt.Transcriber, r StageResilience, obs metrics.Observer) stt.Transcriber {
	t = stt.WithTimeout(t, configutil.Millis(r.TimeoutMS))
	rp := resilience.NewRetryPolicy(r.MaxAttempts, configutil.Millis(r.BaseDelayMS), configutil.Millis(r.MaxDelayMS))
	rp.Jitter = r.Jitter
	return stt.WithRetry(t, rp, obs)
}

// NewCall builds and registers the orchestrator of a new connection. conn
// may be nil for in-process calls, whose text utterances go to the sink.
func (e *Engine) NewCall(ctx context.Context, meta transports.CallMeta, conn transports.Connection) (*call.Orchestrator, error) {
	if e.registry.Draining() {
		return nil, ErrDraining
	}
	ch, err := e.newChannel(conn)
	if err != nil {
		return nil, err
	}
	session := call.NewSession(meta.CallSID, e.greeting, ch)
	cfg := call.Config{
		Transcriber: e.transcriber,
		Reviser:     e.reviser,
		Policy:      e.policy,
		Apology:     e.cfg.Apology,
		Observer:    e.obs,
	}
	if conn != nil {
		cfg.Ack = conn.Ack
	}
	orch := call.NewOrchestrator(session, cfg)
	e.registry.Add(orch)
	e.logger.Info("call_accepted",
		"session_id", session.ID,
		"call_sid", meta.CallSID,
		"stream_id", meta.StreamID,
		"from", redact.Text(meta.From),
		"active_calls", e.registry.Count(),
	)

	if e.cfg.Conversation.SpeakGreeting && e.greeting != "" {
		if err := ch.Say(ctx, e.greeting); err != nil {
			orch.Close(ctx, call.ReasonChannelError)
			return nil, fmt.Errorf("speak greeting: %w", err)
		}
	}
	return orch, nil
}

func (e *Engine) newChannel(conn transports.Connection) (channel.ResponseChannel, error) {
	switch channelKind(e.cfg.Channel.Provider) {
	case ChannelAudio:
		if e.synth == nil || e.device == nil {
			return nil, errors.New("receptionist: audio channel is not configured")
		}
		return channel.NewAudioPlaybackChannel(e.synth, e.device), nil
	default:
		var sink channel.TextSink = channel.WriterSink{W: os.Stdout}
		switch {
		case conn != nil:
			sink = conn
		case e.sink != nil:
			sink = e.sink
		}
		return channel.NewTextDisplayChannel(sink), nil
	}
}

func channelKind(provider string) string {
	if strings.EqualFold(strings.TrimSpace(provider), ChannelAudio) {
		return ChannelAudio
	}
	return ChannelText
}

func (e *Engine) hooks() runner.Hooks {
	return runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Receptionist Ready", "greeting", e.greeting}
			if rr, ok := e.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			e.registry.CloseAll(context.Background(), call.ReasonShutdown)
			e.closeObservers()
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.registry.Count())
		},
	}
}

// drainer stops intake, waits for active calls to end on their own and
// then closes whatever is left.
func (e *Engine) drainer(timeout time.Duration) runner.Drainer {
	return runner.DrainerFunc(func() error {
		if d, ok := e.transport.(interface{ Drain() }); ok {
			d.Drain()
		}
		e.registry.SetDraining(true)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if !e.registry.WaitForEmpty(ctx, 200*time.Millisecond) {
			e.logger.Warn("drain_timeout", "active_calls", e.registry.Count())
			e.registry.CloseAll(context.Background(), call.ReasonShutdown)
		}
		if e.transport != nil {
			return e.transport.Stop()
		}
		return nil
	})
}

func (e *Engine) closeObservers() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.audit != nil {
		_ = e.audit.Close()
		e.audit = nil
	}
}

// Run starts the transport and blocks until ctx ends and the drain completes.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			e.closeObservers()
			return err
		}
	}
	return e.runner.Run(ctx)
}

// Stop drains immediately, whether or not Run was called.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *call.Registry { return e.registry }

func (e *Engine) Observer() metrics.Observer { return e.obs }

func (e *Engine) Greeting() string { return e.greeting }

func (e *Engine) Health() error {
	if e.registry.Draining() {
		return ErrDraining
	}
	return nil
}
