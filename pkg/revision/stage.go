package revision

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/logging"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/redact"
)

const SystemPrompt = `あなたは、高精度な文章修正システムです。電話の音声から文字起こしした文章を、会話の文脈に沿った自然な形に修正します。
- 同音異義語や聞き間違いは、会話の文脈から最も自然な語に直してください。
- 一桁ずつ読み上げられた数字は、まとめて数字として書いてください（例: ゼロ ハチ ゼロ → 080）。
- 文章を削らないでください。判断できない部分はそのまま残してください。
- 修正後の文章だけを出力してください。説明や引用符は不要です。`

const (
	DefaultContextTurns   = 4
	DefaultMinLengthRatio = 0.6
)

type Config struct {
	// ContextTurns is how many recent log turns are shown to the model; 0 disables.
	ContextTurns   int
	MinLengthRatio float64
	Options        llm.CompletionOptions
}

func DefaultConfig() Config {
	return Config{
		ContextTurns:   DefaultContextTurns,
		MinLengthRatio: DefaultMinLengthRatio,
		Options:        llm.CompletionOptions{Temperature: llm.Float(0)},
	}
}

// Stage repairs speech-recognition artifacts in a raw transcript with one
// completion request, then falls back to the raw text whenever the model
// output looks like it dropped content.
type Stage struct {
	backend llm.CompletionBackend
	cfg     Config
	obs     metrics.Observer
	logger  *slog.Logger
}

func NewStage(backend llm.CompletionBackend, cfg Config) *Stage {
	if cfg.MinLengthRatio <= 0 {
		cfg.MinLengthRatio = DefaultMinLengthRatio
	}
	if cfg.ContextTurns < 0 {
		cfg.ContextTurns = 0
	}
	if cfg.Options.Temperature == nil {
		cfg.Options.Temperature = llm.Float(0)
	}
	return &Stage{
		backend: backend,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(slog.Default(), "revision"),
	}
}

func (s *Stage) SetObserver(obs metrics.Observer) { s.obs = obs }

// Revise returns the corrected transcript. Backend failures are returned
// unchanged for the caller to classify.
func (s *Stage) Revise(ctx context.Context, raw string, history []conversation.Turn) (string, error) {
	start := time.Now()
	out, err := s.backend.CreateCompletion(ctx, s.messages(raw, history), s.cfg.Options)
	if err != nil {
		return "", err
	}
	corrected, guarded := Guard(raw, out, s.cfg.MinLengthRatio)

	original, shown := raw, corrected
	if redact.Enabled() {
		original, shown = redact.Text(raw), redact.Text(corrected)
	}
	s.logger.Info("transcript_revised",
		"original", original,
		"corrected", shown,
		"guarded", guarded,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	metrics.Record(s.obs, metrics.EventTranscriptRevised, float64(time.Since(start).Milliseconds()),
		map[string]string{"provider": s.backend.Name()},
		map[string]any{"original": original, "corrected": shown, "guarded": guarded},
	)
	return corrected, nil
}

func (s *Stage) messages(raw string, history []conversation.Turn) []conversation.Turn {
	msgs := []conversation.Turn{conversation.System(SystemPrompt)}
	if ctxTurn, ok := contextTurn(history, s.cfg.ContextTurns); ok {
		msgs = append(msgs, ctxTurn)
	}
	return append(msgs, conversation.User(raw))
}

func contextTurn(history []conversation.Turn, n int) (conversation.Turn, bool) {
	if n <= 0 {
		return conversation.Turn{}, false
	}
	var lines []string
	for _, t := range history {
		switch t.Role {
		case conversation.RoleUser:
			lines = append(lines, "お客様: "+t.Content)
		case conversation.RoleAssistant:
			lines = append(lines, "受付: "+t.Content)
		}
	}
	if len(lines) == 0 {
		return conversation.Turn{}, false
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return conversation.System("直前の会話:\n" + strings.Join(lines, "\n")), true
}

const quoteCutset = " \t\r\n　「」『』\"“”"

// spokenDigits folds each katakana digit reading to a single rune so that
// collapsing "ゼロハチゼロ" into "080" does not count as lost content.
// Longer readings come first; the replacer matches in argument order.
var spokenDigits = strings.NewReplacer(
	"キュウ", "9", "キュー", "9",
	"ゼロ", "0", "レイ", "0", "マル", "0",
	"イチ", "1", "ニー", "2", "サン", "3", "ヨン", "4",
	"ゴー", "5", "ロク", "6", "ナナ", "7", "ハチ", "8",
	"ニ", "2", "ゴ", "5",
)

// Guard trims the model output and returns raw instead when the output is
// empty, much shorter than raw, or lost any of raw's digits. Spoken digit
// readings in raw count as one rune each. The bool reports whether raw was
// kept.
func Guard(raw, out string, minRatio float64) (string, bool) {
	out = strings.Trim(out, quoteCutset)
	if out == "" {
		return raw, true
	}
	rawLen := utf8.RuneCountInString(spokenDigits.Replace(strings.TrimSpace(raw)))
	if float64(utf8.RuneCountInString(out)) < minRatio*float64(rawLen) {
		return raw, true
	}
	if !isSubsequence(digits(raw), digits(out)) {
		return raw, true
	}
	return out, false
}

func digits(s string) []rune {
	var out []rune
	for _, r := range width.Fold.String(s) {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	return out
}

func isSubsequence(sub, seq []rune) bool {
	i := 0
	for _, r := range seq {
		if i < len(sub) && sub[i] == r {
			i++
		}
	}
	return i == len(sub)
}
