package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMGenerate)
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("expected reason %s, got %s", ReasonLLMGenerate, Reason(err))
	}
	if !HasReason(err, ReasonLLMGenerate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTTranscribe)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonSTTTranscribe {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("say: %w", Wrap(assertErr{}, ReasonChannelSay))
	if Reason(err) != ReasonChannelSay {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	if !errors.As(err, new(assertErr)) {
		t.Fatalf("expected inner error reachable")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestWrapfAndReasonOr(t *testing.T) {
	err := Wrapf(assertErr{}, ReasonTTSSynthesize, "speaker %d", 3)
	if err.Error() != "speaker 3: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Reason(err) != ReasonTTSSynthesize {
		t.Fatalf("expected tts reason, got %s", Reason(err))
	}
	if ReasonOr(assertErr{}, ReasonChannelDevice) != ReasonChannelDevice {
		t.Fatalf("expected fallback reason")
	}
	if Wrapf(nil, ReasonUnknown, "x") != nil {
		t.Fatalf("expected nil for nil error")
	}
}
