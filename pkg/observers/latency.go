package observers

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/metrics"
)

// LatencyObserver folds stage latencies into one "turn_latency" log line per
// turn. Stages a turn never reached are reported as -1.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	transcribing float64
	revising     float64
	deciding     float64
	responding   float64
	turns        int
}

func newTrace() *trace {
	return &trace{transcribing: -1, revising: -1, deciding: -1, responding: -1}
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventStageLatency:
		t := o.traces[sessionID]
		if t == nil {
			t = newTrace()
			o.traces[sessionID] = t
		}
		switch ev.Tags["stage"] {
		case "transcribing":
			t.transcribing = ev.Value
		case "revising":
			t.revising = ev.Value
		case "deciding":
			t.deciding = ev.Value
		case "responding":
			t.responding = ev.Value
		}
	case metrics.EventTurnOutcome:
		t := o.traces[sessionID]
		if t == nil {
			return
		}
		t.turns++
		o.logTurnLocked(sessionID, ev.Tags["outcome"], t)
		next := newTrace()
		next.turns = t.turns
		o.traces[sessionID] = next
	case metrics.EventSessionEnd:
		delete(o.traces, sessionID)
	}
}

func (o *LatencyObserver) logTurnLocked(sessionID, outcome string, t *trace) {
	total := 0.0
	for _, v := range []float64{t.transcribing, t.revising, t.deciding, t.responding} {
		if v > 0 {
			total += v
		}
	}
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"turn", t.turns,
		"outcome", outcome,
		"transcribe_ms", int64(t.transcribing),
		"revise_ms", int64(t.revising),
		"decide_ms", int64(t.deciding),
		"respond_ms", int64(t.responding),
		"total_ms", int64(total),
	)
}

// Active reports how many sessions have pending stage latencies.
func (o *LatencyObserver) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}
