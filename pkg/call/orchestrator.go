package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/channel"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/logging"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/redact"
	"github.com/harunnryd/uketsuke/pkg/resilience"
)

// ErrSessionClosed is returned for audio that arrives after the session ended.
var ErrSessionClosed = errors.New("call session closed")

// Reviser repairs a raw transcript using the call history as context.
type Reviser interface {
	Revise(ctx context.Context, raw string, history []conversation.Turn) (string, error)
}

// Policy produces the next assistant utterance from the full history.
type Policy interface {
	Next(ctx context.Context, history []conversation.Turn) (string, error)
}

// Session end reasons.
const (
	ReasonDisconnect         = "disconnect"
	ReasonStop               = "stop"
	ReasonCancelled          = "cancelled"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonChannelError       = "channel_error"
	ReasonShutdown           = "shutdown"
)

// Acknowledgment statuses.
const (
	AckSkipped = "skipped"
	AckSpoken  = "spoken"
	AckClosed  = "closed"
)

// Ack reports the outcome of a turn to the connection.
type Ack struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Turn      int    `json:"turn"`
	Status    string `json:"status"`
}

type AckFunc func(ctx context.Context, ack Ack)

type Config struct {
	Transcriber stt.Transcriber
	// Reviser may be nil, in which case the raw transcript is used as is.
	Reviser  Reviser
	Policy   Policy
	ModelID  string
	Apology  string
	Observer metrics.Observer
	Ack      AckFunc
}

// Orchestrator runs the turn pipeline of one call: transcribe, revise,
// append, decide, append, say. Turns never overlap.
type Orchestrator struct {
	session *Session
	cfg     Config
	sm      *stateMachine
	logger  *slog.Logger

	turnMu    sync.Mutex
	turn      atomic.Int64
	closeOnce sync.Once
}

func NewOrchestrator(session *Session, cfg Config) *Orchestrator {
	o := &Orchestrator{
		session: session,
		cfg:     cfg,
		sm:      newStateMachine(),
		logger: logging.NewComponentLogger(slog.Default(), "call").With(
			"session_id", session.ID,
			"call_sid", session.CallSID,
		),
	}
	metrics.Record(cfg.Observer, metrics.EventSessionStart, 1, map[string]string{"session_id": session.ID}, nil)
	o.logger.Info("call_session_start", "channel", channelName(session.Channel))
	return o
}

func (o *Orchestrator) Session() *Session { return o.session }

func (o *Orchestrator) State() State { return o.sm.State() }

func (o *Orchestrator) AddListener(l StateListener) { o.sm.AddListener(l) }

// Run handles chunks one at a time until chunks is closed, ctx is done or
// the session closes.
func (o *Orchestrator) Run(ctx context.Context, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			o.Close(ctx, ReasonCancelled)
			return nil
		case <-o.session.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				o.Close(ctx, ReasonDisconnect)
				return nil
			}
			if err := o.HandleAudio(ctx, chunk); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// HandleAudio runs one full turn for an audio chunk. Turn failures are
// handled here; the returned error is non-nil only when the session is
// already closed.
func (o *Orchestrator) HandleAudio(ctx context.Context, chunk []byte) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	if o.session.Closed() {
		return ErrSessionClosed
	}
	if err := o.sm.Transition(StateTranscribing, "audio chunk"); err != nil {
		return ErrSessionClosed
	}
	turn := int(o.turn.Add(1))

	start := time.Now()
	raw, err := o.cfg.Transcriber.Transcribe(ctx, chunk, o.cfg.ModelID)
	o.stageLatency(StateTranscribing, start)
	if o.session.Closed() {
		return o.discard(turn, StateTranscribing)
	}
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(ctx, turn, StateTranscribing, err)
		}
		return o.skip(ctx, turn, "transcription_error", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return o.skip(ctx, turn, "silence", nil)
	}

	if err := o.sm.Transition(StateRevising, "transcribed"); err != nil {
		return o.discard(turn, StateRevising)
	}
	clean := raw
	if o.cfg.Reviser != nil {
		start = time.Now()
		clean, err = o.cfg.Reviser.Revise(ctx, raw, o.session.Log.Turns())
		o.stageLatency(StateRevising, start)
		if err != nil {
			return o.fail(ctx, turn, StateRevising, err)
		}
	}
	if _, err := o.session.Log.Append(conversation.User(clean)); err != nil {
		return o.discard(turn, StateRevising)
	}

	if err := o.sm.Transition(StateDeciding, "revised"); err != nil {
		return o.discard(turn, StateDeciding)
	}
	start = time.Now()
	reply, err := o.cfg.Policy.Next(ctx, o.session.Log.Turns())
	o.stageLatency(StateDeciding, start)
	if err != nil {
		return o.fail(ctx, turn, StateDeciding, err)
	}
	if _, err := o.session.Log.Append(conversation.Assistant(reply)); err != nil {
		return o.discard(turn, StateDeciding)
	}

	if err := o.sm.Transition(StateResponding, "decided"); err != nil {
		return o.discard(turn, StateResponding)
	}
	start = time.Now()
	err = o.session.Channel.Say(ctx, reply)
	o.stageLatency(StateResponding, start)
	if err != nil {
		return o.fail(ctx, turn, StateResponding, err)
	}
	if err := o.sm.Transition(StateListening, "spoken"); err != nil {
		return o.discard(turn, StateResponding)
	}

	o.logger.Info("turn_completed",
		"turn", turn,
		"user", o.redacted(clean),
		"assistant", o.redacted(reply),
		"log_len", o.session.Log.Len(),
	)
	o.outcome("completed")
	o.ack(ctx, turn, AckSpoken)
	return nil
}

// Close ends the session. It is safe to call more than once and from any
// goroutine.
func (o *Orchestrator) Close(ctx context.Context, reason string) {
	o.closeOnce.Do(func() { o.close(ctx, reason) })
}

func (o *Orchestrator) close(ctx context.Context, reason string) {
	from := o.sm.State()
	_ = o.sm.Transition(StateClosed, reason)
	if err := o.session.Close(reason); err != nil {
		o.logger.Warn("call_session_close_error", "reason_code", string(errorsx.ReasonOr(err, errorsx.ReasonChannelDevice)), "error", err)
	}
	o.logger.Info("call_session_end",
		"reason", reason,
		"from_state", from.String(),
		"turns", o.session.Log.Len(),
		"duration_ms", time.Since(o.session.Created).Milliseconds(),
	)
	metrics.Record(o.cfg.Observer, metrics.EventSessionEnd, 1, map[string]string{
		"session_id": o.session.ID,
		"reason":     reason,
	}, nil)
	if ctx != nil && ctx.Err() == nil {
		o.ack(ctx, int(o.turn.Load()), AckClosed)
	}
}

func (o *Orchestrator) skip(ctx context.Context, turn int, cause string, err error) error {
	attrs := []any{"turn", turn, "stage", StateTranscribing.String(), "cause", cause}
	if err != nil {
		attrs = append(attrs, "reason_code", string(errorsx.ReasonOr(err, errorsx.ReasonSTTTranscribe)), "error", err)
	}
	o.logger.Warn("turn_skipped", attrs...)
	if err := o.sm.Transition(StateListening, cause); err != nil {
		return o.discard(turn, StateTranscribing)
	}
	o.outcome("skipped")
	o.ack(ctx, turn, AckSkipped)
	return nil
}

// fail classifies an error that ends the turn. Backend exhaustion closes the
// call with an apology; channel errors close it without one.
func (o *Orchestrator) fail(ctx context.Context, turn int, stage State, err error) error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		o.logger.Info("turn_cancelled", "turn", turn, "stage", stage.String())
		o.outcome("cancelled")
		o.Close(ctx, ReasonCancelled)
	case channel.IsChannelError(err):
		o.logger.Error("turn_failed",
			"turn", turn,
			"stage", stage.String(),
			"reason_code", string(errorsx.ReasonOr(err, errorsx.ReasonChannelSay)),
			"error", err,
		)
		o.outcome("channel_error")
		o.Close(ctx, ReasonChannelError)
	default:
		o.logger.Error("turn_failed",
			"turn", turn,
			"stage", stage.String(),
			"reason_code", string(backendReason(err)),
			"error", err,
		)
		o.outcome("backend_unavailable")
		o.apologize(ctx, turn)
		o.Close(ctx, ReasonBackendUnavailable)
	}
	return ErrSessionClosed
}

func (o *Orchestrator) discard(turn int, stage State) error {
	o.logger.Info("turn_discarded", "turn", turn, "stage", stage.String(), "reason", o.session.CloseReason())
	o.outcome("discarded")
	return ErrSessionClosed
}

func (o *Orchestrator) apologize(ctx context.Context, turn int) {
	if o.cfg.Apology == "" || o.session.Channel == nil || ctx.Err() != nil {
		return
	}
	if err := o.session.Channel.Say(ctx, o.cfg.Apology); err != nil {
		o.logger.Warn("apology_failed", "turn", turn, "reason_code", string(errorsx.ReasonOr(err, errorsx.ReasonChannelSay)), "error", err)
	}
}

func (o *Orchestrator) ack(ctx context.Context, turn int, status string) {
	if o.cfg.Ack == nil {
		return
	}
	o.cfg.Ack(ctx, Ack{Event: "ack", SessionID: o.session.ID, Turn: turn, Status: status})
}

func (o *Orchestrator) outcome(outcome string) {
	metrics.Record(o.cfg.Observer, metrics.EventTurnOutcome, 1, map[string]string{
		"session_id": o.session.ID,
		"outcome":    outcome,
	}, nil)
}

func (o *Orchestrator) stageLatency(stage State, start time.Time) {
	metrics.Record(o.cfg.Observer, metrics.EventStageLatency, float64(time.Since(start).Milliseconds()), map[string]string{
		"session_id": o.session.ID,
		"stage":      stage.String(),
	}, nil)
}

func (o *Orchestrator) redacted(s string) string {
	if redact.Enabled() {
		return redact.Text(s)
	}
	return s
}

func backendReason(err error) errorsx.ReasonCode {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return errorsx.ReasonLLMCircuitOpen
	}
	return llm.ReasonOf(err)
}

func channelName(ch channel.ResponseChannel) string {
	if ch == nil {
		return ""
	}
	return ch.Name()
}
