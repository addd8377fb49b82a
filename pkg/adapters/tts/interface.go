package tts

import (
	"context"
	"time"
)

// PCM is raw little-endian signed 16-bit audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the samples.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Data) / (2 * p.Channels)
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Synthesizer renders text to PCM through an external synthesis engine.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (PCM, error)
}
