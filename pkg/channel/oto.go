package channel

import (
	"context"
	"sync"
	"time"

	"github.com/hajimehoshi/oto"
)

// oto allows one live context per process, so the speaker is held for the
// whole lifetime of a stream.
var speakerMu sync.Mutex

// OtoDevice plays streams on the default system speaker.
type OtoDevice struct {
	BufferSize int
}

func NewOtoDevice() *OtoDevice { return &OtoDevice{BufferSize: 3200} }

func (d *OtoDevice) Open(sampleRate, channels int) (Stream, error) {
	bufSize := d.BufferSize
	if bufSize <= 0 {
		bufSize = 3200
	}
	speakerMu.Lock()
	octx, err := oto.NewContext(sampleRate, channels, 2, bufSize)
	if err != nil {
		speakerMu.Unlock()
		return nil, err
	}
	bytesPerSecond := sampleRate * channels * 2
	return &otoStream{
		ctx:    octx,
		player: octx.NewPlayer(),
		tail:   time.Duration(bufSize) * time.Second / time.Duration(bytesPerSecond),
	}, nil
}

type otoStream struct {
	ctx     *oto.Context
	player  *oto.Player
	tail    time.Duration
	stopped bool
	once    sync.Once
}

// Write blocks until the samples are queued in the device buffer.
func (s *otoStream) Write(p []byte) (int, error) { return s.player.Write(p) }

// Drain waits for the samples still held in the device buffer.
func (s *otoStream) Drain(ctx context.Context) error {
	t := time.NewTimer(s.tail)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *otoStream) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.player.Close()
}

func (s *otoStream) Close() error {
	var err error
	s.once.Do(func() {
		if !s.stopped {
			s.stopped = true
			_ = s.player.Close()
		}
		err = s.ctx.Close()
		speakerMu.Unlock()
	})
	return err
}
