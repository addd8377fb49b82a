package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/resilience"
)

type flakyTranscriber struct {
	failures int
	calls    int
	block    bool
}

func (f *flakyTranscriber) Name() string { return "flaky" }

func (f *flakyTranscriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.calls <= f.failures {
		return "", errors.New("engine hiccup")
	}
	return string(audio), nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryTranscriberRecovers(t *testing.T) {
	inner := &flakyTranscriber{failures: 2}
	tr := WithRetry(inner, resilience.RetryPolicy{MaxAttempts: 3, Sleep: noSleep}, nil)
	got, err := tr.Transcribe(context.Background(), []byte("もしもし"), "whisper-1")
	if err != nil || got != "もしもし" {
		t.Fatalf("expected recovery, got %q err=%v", got, err)
	}
}

func TestRetryTranscriberExhaustedIsTranscriptionError(t *testing.T) {
	inner := &flakyTranscriber{failures: 5}
	tr := WithRetry(inner, resilience.RetryPolicy{MaxAttempts: 2, Sleep: noSleep}, nil)
	_, err := tr.Transcribe(context.Background(), []byte("x"), "")
	if !IsTranscriptionError(err) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
	if errorsx.Reason(err) != errorsx.ReasonSTTTranscribe {
		t.Fatalf("expected stt reason, got %s", errorsx.Reason(err))
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestTimeoutTranscriber(t *testing.T) {
	tr := WithTimeout(&flakyTranscriber{block: true}, 10*time.Millisecond)
	_, err := tr.Transcribe(context.Background(), nil, "")
	if !IsTranscriptionError(err) {
		t.Fatalf("expected TranscriptionError on timeout, got %v", err)
	}
	if errorsx.Reason(err) != errorsx.ReasonSTTTimeout {
		t.Fatalf("expected timeout reason, got %s", errorsx.Reason(err))
	}
}

func TestFailKeepsCancellation(t *testing.T) {
	if err := Fail("p", context.Canceled); IsTranscriptionError(err) {
		t.Fatalf("expected cancellation to pass through")
	}
	if Fail("p", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
