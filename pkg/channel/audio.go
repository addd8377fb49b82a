package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/logging"
)

// OutputDevice opens playback streams on a speaker.
type OutputDevice interface {
	Open(sampleRate, channels int) (Stream, error)
}

// Stream is one open playback stream. Drain blocks until every written
// sample has been played.
type Stream interface {
	Write(p []byte) (int, error)
	Drain(ctx context.Context) error
	Stop() error
	Close() error
}

// AudioPlaybackChannel synthesizes each utterance and plays it on a device.
type AudioPlaybackChannel struct {
	mu     sync.Mutex
	synth  tts.Synthesizer
	device OutputDevice
	closed bool
	logger *slog.Logger
}

func NewAudioPlaybackChannel(synth tts.Synthesizer, device OutputDevice) *AudioPlaybackChannel {
	return &AudioPlaybackChannel{
		synth:  synth,
		device: device,
		logger: logging.NewComponentLogger(slog.Default(), "audio_channel"),
	}
}

func (c *AudioPlaybackChannel) Name() string { return "audio" }

func (c *AudioPlaybackChannel) Say(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fail(c.Name(), ErrClosed, errorsx.ReasonChannelSay)
	}
	pcm, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fail(c.Name(), err, errorsx.ReasonTTSSynthesize)
	}
	if len(pcm.Data) == 0 {
		return nil
	}
	return c.play(ctx, pcm)
}

func (c *AudioPlaybackChannel) play(ctx context.Context, pcm tts.PCM) (err error) {
	stream, err := c.device.Open(pcm.SampleRate, pcm.Channels)
	if err != nil {
		return fail(c.Name(), err, errorsx.ReasonChannelDevice)
	}
	defer func() {
		stopErr := stream.Stop()
		closeErr := stream.Close()
		if err == nil {
			if stopErr != nil {
				err = fail(c.Name(), stopErr, errorsx.ReasonChannelDevice)
			} else if closeErr != nil {
				err = fail(c.Name(), closeErr, errorsx.ReasonChannelDevice)
			}
		}
	}()
	if _, err := stream.Write(pcm.Data); err != nil {
		return fail(c.Name(), err, errorsx.ReasonChannelDevice)
	}
	if err := stream.Drain(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fail(c.Name(), err, errorsx.ReasonChannelDevice)
	}
	c.logger.Debug("audio_played", "duration_ms", pcm.Duration().Milliseconds())
	return nil
}

func (c *AudioPlaybackChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
