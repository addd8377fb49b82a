package stt

import (
	"context"
	"errors"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
)

// Transcriber turns one chunk of caller audio into best-effort text. There
// is no punctuation guarantee and an empty string is a valid result (silence).
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	Transcribe(ctx context.Context, audio []byte, modelID string) (string, error)
}

// TranscriptionError reports an engine failure or unusable audio.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	if e.Err == nil {
		return e.Provider + ": transcription failed"
	}
	return e.Provider + ": transcription failed: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Fail wraps err as a TranscriptionError unless it already is one or is a
// cancellation of the caller's context.
func Fail(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return err
	}
	return errorsx.Wrap(&TranscriptionError{Provider: provider, Err: err}, errorsx.ReasonSTTTranscribe)
}

func IsTranscriptionError(err error) bool {
	var te *TranscriptionError
	return errors.As(err, &te)
}
