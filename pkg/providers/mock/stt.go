package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
)

// Transcriber returns scripted transcripts in order. When the script is
// exhausted the audio bytes are returned as UTF-8 text, which lets tests and
// the chat command feed text straight through the pipeline.
type Transcriber struct {
	mu      sync.Mutex
	results []Reply
	next    int
	calls   int
	models  []string
}

func NewTranscriber(results ...Reply) *Transcriber {
	return &Transcriber{results: results}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, modelID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.models = append(t.models, modelID)
	if t.next < len(t.results) {
		r := t.results[t.next]
		t.next++
		if r.Err != nil {
			return "", stt.Fail(t.Name(), r.Err)
		}
		return r.Text, nil
	}
	return string(audio), nil
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Models returns the model id passed on each call.
func (t *Transcriber) Models() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.models...)
}
