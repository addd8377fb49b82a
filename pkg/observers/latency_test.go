package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/harunnryd/uketsuke/pkg/metrics"
)

func TestLatencyObserverLogsOneLinePerTurn(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	tags := func(stage string) map[string]string {
		return map[string]string{"session_id": "s1", "stage": stage}
	}
	metrics.Record(obs, metrics.EventStageLatency, 120, tags("transcribing"), nil)
	metrics.Record(obs, metrics.EventStageLatency, 30, tags("revising"), nil)
	metrics.Record(obs, metrics.EventStageLatency, 400, tags("deciding"), nil)
	metrics.Record(obs, metrics.EventStageLatency, 50, tags("responding"), nil)
	metrics.Record(obs, metrics.EventTurnOutcome, 1, map[string]string{"session_id": "s1", "outcome": "completed"}, nil)

	out := buf.String()
	for _, want := range []string{"turn_latency", "turn=1", "outcome=completed", "decide_ms=400", "total_ms=600"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %s", want, out)
		}
	}

	buf.Reset()
	metrics.Record(obs, metrics.EventStageLatency, 80, tags("transcribing"), nil)
	metrics.Record(obs, metrics.EventTurnOutcome, 1, map[string]string{"session_id": "s1", "outcome": "skipped"}, nil)
	out = buf.String()
	if !strings.Contains(out, "turn=2") || !strings.Contains(out, "revise_ms=-1") {
		t.Fatalf("expected unreached stages as -1, got %s", out)
	}

	metrics.Record(obs, metrics.EventSessionEnd, 0, map[string]string{"session_id": "s1"}, nil)
	if obs.Active() != 0 {
		t.Fatalf("expected session trace dropped on end")
	}
}

func TestLatencyObserverIgnoresUntaggedEvents(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	metrics.Record(obs, metrics.EventStageLatency, 10, map[string]string{"stage": "deciding"}, nil)
	metrics.Record(obs, metrics.EventTurnOutcome, 1, map[string]string{"session_id": "s2"}, nil)
	if buf.Len() != 0 || obs.Active() != 0 {
		t.Fatalf("expected nothing recorded, got %s", buf.String())
	}
}
