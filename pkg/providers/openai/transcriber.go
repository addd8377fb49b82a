package openai

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultPrompt primes Whisper towards polite telephone Japanese.
const DefaultPrompt = "こんにちは、元気ですか？ありがとうございました。"

type TranscriberConfig struct {
	Config
	Language string
	Prompt   string
}

// Transcriber sends each audio chunk (a complete WAV utterance) to the
// Whisper transcription endpoint.
type Transcriber struct {
	client   *goopenai.Client
	model    string
	language string
	prompt   string
}

func NewTranscriber(cfg TranscriberConfig) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Language == "" {
		cfg.Language = "ja"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.Whisper1
	}
	return &Transcriber{client: newClient(cfg.Config), model: cfg.Model, language: cfg.Language, prompt: cfg.Prompt}, nil
}

func (t *Transcriber) Name() string { return "whisper" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, modelID string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if modelID == "" {
		modelID = t.model
	}
	resp, err := t.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    modelID,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio),
		Prompt:   t.prompt,
		Language: t.language,
	})
	if err != nil {
		return "", stt.Fail(t.Name(), err)
	}
	return strings.TrimSpace(resp.Text), nil
}
