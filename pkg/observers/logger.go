package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/redact"
)

// LoggerObserver mirrors metrics events into the debug log. String fields
// pass through PII redaction since they may hold caller transcripts.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	if !o.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		if s, ok := v.(string); ok {
			attrs = append(attrs, slog.String(k, redact.Text(s)))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "metrics", attrs...)
}

type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// Add appends an observer after construction.
func (m *MultiObserver) Add(obs metrics.Observer) {
	if obs != nil {
		m.list = append(m.list, obs)
	}
}
