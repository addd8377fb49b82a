package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
)

// Synthesizer renders every rune of text as one millisecond of silence at 24kHz.
type Synthesizer struct {
	mu    sync.Mutex
	Err   error
	texts []string
}

func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.PCM, error) {
	if err := ctx.Err(); err != nil {
		return tts.PCM{}, err
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return tts.PCM{}, err
	}
	const rate = 24000
	samples := len([]rune(text)) * rate / 1000
	return tts.PCM{Data: make([]byte, samples*2), SampleRate: rate, Channels: 1}, nil
}

func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}
