package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record emits an event stamped with the current time. A nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}
