package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/logging"
)

const (
	DefaultBaseURL = "wss://api.elevenlabs.io"
	DefaultModel   = "eleven_multilingual_v2"
	SampleRate     = 24000
)

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Dialer  *websocket.Dialer
}

// Synthesizer renders one utterance per stream-input session. Output is
// requested as pcm_24000 so the samples match the local playback device.
type Synthesizer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

type chunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, errors.New("elevenlabs: api_key and voice_id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModel
	}
	d := cfg.Dialer
	if d == nil {
		d = &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	return &Synthesizer{cfg: cfg, dialer: d, logger: logging.NewComponentLogger(slog.Default(), "elevenlabs")}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.PCM, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.streamURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			return tts.PCM{}, errorsx.Wrapf(err, errorsx.ReasonTTSSynthesize, "elevenlabs connect: status %d", resp.StatusCode)
		}
		return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.5, "similarity_boost": 0.8}},
		{"text": strings.TrimSpace(text) + " ", "flush": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		}
	}

	var data []byte
	for {
		var c chunk
		if err := conn.ReadJSON(&c); err != nil {
			if ctx.Err() != nil {
				return tts.PCM{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(data) > 0 {
				break
			}
			return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		}
		if c.Error != "" || (c.Message != "" && c.Audio == "" && !c.IsFinal) {
			return tts.PCM{}, errorsx.Wrap(fmt.Errorf("elevenlabs: %s %s", c.Error, c.Message), errorsx.ReasonTTSSynthesize)
		}
		if c.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(c.Audio)
			if err != nil {
				return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
			}
			data = append(data, raw...)
		}
		if c.IsFinal {
			break
		}
	}
	pcm := tts.PCM{Data: data, SampleRate: SampleRate, Channels: 1}
	s.logger.Debug("elevenlabs_synthesized", "voice_id", s.cfg.VoiceID, "duration_ms", pcm.Duration().Milliseconds())
	return pcm, nil
}

func (s *Synthesizer) streamURL() string {
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", "pcm_"+strconv.Itoa(SampleRate))
	return s.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input?" + q.Encode()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
