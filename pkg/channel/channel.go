package channel

import (
	"context"
	"errors"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
)

// ResponseChannel delivers assistant utterances to the caller. Say returns
// only after the output has fully completed; calls on one channel never
// overlap.
type ResponseChannel interface {
	Name() string
	Say(ctx context.Context, text string) error
	Close() error
}

// ErrClosed is returned by Say after Close.
var ErrClosed = errors.New("channel closed")

// Error is the failure of a channel to emit an utterance.
type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Channel + ": channel failed"
	}
	return e.Channel + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func fail(channel string, err error, reason errorsx.ReasonCode) error {
	if err == nil {
		return nil
	}
	return errorsx.Wrap(&Error{Channel: channel, Err: err}, reason)
}

func IsChannelError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
