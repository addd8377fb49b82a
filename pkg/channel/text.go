package channel

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
)

// TextSink receives finished utterances.
type TextSink interface {
	WriteText(ctx context.Context, text string) error
}

// WriterSink writes each utterance as one line.
type WriterSink struct {
	W      io.Writer
	Prefix string
}

func (s WriterSink) WriteText(_ context.Context, text string) error {
	_, err := fmt.Fprintln(s.W, s.Prefix+text)
	return err
}

// TextDisplayChannel shows utterances as text instead of speaking them.
type TextDisplayChannel struct {
	mu     sync.Mutex
	sink   TextSink
	closed bool
}

func NewTextDisplayChannel(sink TextSink) *TextDisplayChannel {
	return &TextDisplayChannel{sink: sink}
}

func (c *TextDisplayChannel) Name() string { return "text" }

func (c *TextDisplayChannel) Say(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fail(c.Name(), ErrClosed, errorsx.ReasonChannelSay)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sink.WriteText(ctx, text); err != nil {
		return fail(c.Name(), err, errorsx.ReasonChannelSay)
	}
	return nil
}

func (c *TextDisplayChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
