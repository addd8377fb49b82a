package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/logging"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

type prerecorded interface {
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*msginterfaces.PreRecordedResponse, error)
}

// Transcriber sends each utterance to Deepgram's prerecorded endpoint.
type Transcriber struct {
	cfg    Config
	dg     prerecorded
	logger *slog.Logger
}

func NewTranscriber(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "ja"
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return newTranscriber(cfg, api.New(c)), nil
}

func newTranscriber(cfg Config, dg prerecorded) *Transcriber {
	return &Transcriber{
		cfg:    cfg,
		dg:     dg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, modelID string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	model := t.cfg.Model
	if modelID != "" {
		model = modelID
	}
	res, err := t.dg.FromStream(ctx, bytes.NewReader(audio), &interfaces.PreRecordedTranscriptionOptions{
		Model:       model,
		Language:    t.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		return "", stt.Fail(t.Name(), err)
	}
	text, err := transcriptOf(res)
	if err != nil {
		return "", stt.Fail(t.Name(), err)
	}
	t.logger.Debug("deepgram_transcript", "model", model, "chars", len([]rune(text)))
	return text, nil
}

// transcriptOf reads the first alternative of the first channel.
func transcriptOf(res *msginterfaces.PreRecordedResponse) (string, error) {
	if res == nil {
		return "", errors.New("empty response")
	}
	if res.Results == nil || len(res.Results.Channels) == 0 {
		return "", errors.New("response has no channels")
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return "", nil
	}
	return strings.TrimSpace(alts[0].Transcript), nil
}
