package voicevox

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/logging"
)

const (
	DefaultBaseURL = "http://localhost:50021"
	SampleRate     = 24000
)

type Config struct {
	BaseURL    string
	Speaker    int
	HTTPClient *http.Client
}

// Client talks to a VOICEVOX engine: an audio_query call builds the
// synthesis parameters, and a synthesis call renders them to WAV.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Speaker <= 0 {
		cfg.Speaker = 1
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, logger: logging.NewComponentLogger(slog.Default(), "voicevox")}
}

func (c *Client) Name() string { return "voicevox" }

// Synthesize returns 24kHz mono 16-bit PCM for text.
func (c *Client) Synthesize(ctx context.Context, text string) (tts.PCM, error) {
	query, err := c.AudioQuery(ctx, text)
	if err != nil {
		return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	wav, err := c.Synthesis(ctx, query)
	if err != nil {
		return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	data, err := pcmFromWAV(wav)
	if err != nil {
		return tts.PCM{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	pcm := tts.PCM{Data: data, SampleRate: SampleRate, Channels: 1}
	c.logger.Debug("voicevox_synthesized", "speaker", c.cfg.Speaker, "duration_ms", pcm.Duration().Milliseconds())
	return pcm, nil
}

// AudioQuery fetches synthesis parameters and forces mono 24kHz output.
func (c *Client) AudioQuery(ctx context.Context, text string) (map[string]any, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(c.cfg.Speaker))
	body, err := c.post(ctx, "/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, errorsx.Wrapf(err, errorsx.ReasonTTSSynthesize, "audio_query")
	}
	var query map[string]any
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("audio_query: decode: %w", err)
	}
	query["outputSamplingRate"] = SampleRate
	query["outputStereo"] = false
	return query, nil
}

// Synthesis renders an audio query to a WAV file.
func (c *Client) Synthesis(ctx context.Context, query map[string]any) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("synthesis: encode: %w", err)
	}
	params := url.Values{}
	params.Set("speaker", strconv.Itoa(c.cfg.Speaker))
	body, err := c.post(ctx, "/synthesis?"+params.Encode(), payload)
	if err != nil {
		return nil, errorsx.Wrapf(err, errorsx.ReasonTTSSynthesize, "synthesis")
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// pcmFromWAV returns the samples of the data chunk of a RIFF/WAVE file.
func pcmFromWAV(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a wav file")
	}
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		off += 8
		if id == "data" {
			end := off + size
			if end > len(wav) || size == 0 {
				end = len(wav)
			}
			return wav[off:end], nil
		}
		off += size + size%2
	}
	if len(wav) > 44 {
		return wav[44:], nil
	}
	return nil, errors.New("wav has no data chunk")
}
