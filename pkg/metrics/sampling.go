package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly rate of all events. Events named in
// keep always pass, so audit and session records survive sampling.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     uint64
	keep        map[string]struct{}
}

func NewSamplingObserver(inner Observer, rate float64, keep ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	switch {
	case rate == 0:
		every = 0
	case rate == 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	s := &SamplingObserver{inner: inner, rate: rate, sampleEvery: every, keep: make(map[string]struct{}, len(keep))}
	for _, name := range keep {
		s.keep[name] = struct{}{}
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if _, ok := s.keep[ev.Name]; ok {
		s.inner.RecordEvent(ev)
		return
	}
	if s.sampleEvery == 0 {
		return
	}
	if s.sampleEvery == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
