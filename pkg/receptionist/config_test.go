package receptionist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/uketsuke/pkg/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receptionist.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channel.Provider != ChannelText || cfg.Server.Provider != "twilio" {
		t.Fatalf("unexpected providers %+v %+v", cfg.Channel, cfg.Server)
	}
	if !cfg.Revision.Enabled || cfg.Revision.ContextTurns != 4 || cfg.Revision.MinLengthRatio != 0.6 {
		t.Fatalf("unexpected revision defaults %+v", cfg.Revision)
	}
	if cfg.Policy.Company != "首無し商事株式会社" || !cfg.Policy.NormalizePhoneReadback {
		t.Fatalf("unexpected policy defaults %+v", cfg.Policy)
	}
	if cfg.Policy.Options.Projection()[llm.OptTemperature] != nil {
		t.Fatalf("expected unset policy options by default")
	}
	if cfg.Resilience.Completion.MaxAttempts != 3 || cfg.Resilience.Completion.BreakerThreshold != 3 {
		t.Fatalf("unexpected completion resilience %+v", cfg.Resilience.Completion)
	}
	if !cfg.Privacy.RedactPII || cfg.Apology == "" {
		t.Fatalf("expected redaction and apology defaults")
	}
}

func TestLoadConfigFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	t.Setenv("TEST_COMPANY", "株式会社テスト")
	path := writeConfig(t, `
vendors:
  llm:
    provider: openai
    settings:
      api_key: ${TEST_OPENAI_KEY}
      model: gpt-4o-mini
  stt:
    provider: deepgram
    settings:
      api_key: ${TEST_OPENAI_KEY}
      keywords: ["${TEST_COMPANY}"]
channel:
  provider: audio
policy:
  company: ${TEST_COMPANY}
  options:
    temperature: 0
    max_tokens: 128
revision:
  context_turns: 0
log_format: json
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vendors.LLM.Settings["api_key"] != "sk-test" {
		t.Fatalf("expected expanded api key, got %v", cfg.Vendors.LLM.Settings["api_key"])
	}
	kw, ok := cfg.Vendors.STT.Settings["keywords"].([]any)
	if !ok || len(kw) != 1 || kw[0] != "株式会社テスト" {
		t.Fatalf("expected expanded nested list, got %#v", cfg.Vendors.STT.Settings["keywords"])
	}
	if cfg.Policy.Company != "株式会社テスト" {
		t.Fatalf("expected expanded company, got %q", cfg.Policy.Company)
	}
	p := cfg.Policy.Options.Projection()
	if p[llm.OptTemperature] != 0.0 || p[llm.OptMaxTokens] != 128 || len(p) != 2 {
		t.Fatalf("unexpected policy options %v", p)
	}
	if cfg.Revision.ContextTurns != 0 || cfg.Channel.Provider != ChannelAudio {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Revision, cfg.Channel)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("UKETSUKE_LOG_LEVEL", "debug")
	t.Setenv("UKETSUKE_CHANNEL_PROVIDER", "audio")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Channel.Provider != ChannelAudio {
		t.Fatalf("expected env overrides, got %q %q", cfg.LogLevel, cfg.Channel.Provider)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"channel", "channel:\n  provider: video\n", "channel.provider"},
		{"ratio", "revision:\n  min_length_ratio: 1.5\n", "revision.min_length_ratio"},
		{"sample rate", "observability:\n  sample_rate: 2\n", "observability.sample_rate"},
		{"log format", "log_format: xml\n", "log_format"},
		{"jitter", "resilience:\n  completion:\n    jitter: 3\n", "resilience.completion.jitter"},
		{"negative", "resilience:\n  transcription:\n    max_attempts: -1\n", "resilience.transcription"},
		{"stt", "vendors:\n  stt:\n    provider: \"\"\n", "vendors.stt.provider"},
		{"shared transcription model", "conversation:\n  transcription_model: whisper-1\n", "vendors.stt.settings.model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestProviderRegistryLookup(t *testing.T) {
	reg := NewProviderRegistry()
	reg.RegisterLLM(" OpenAI ", func(VendorConfig) (llm.CompletionBackend, error) { return nil, nil })
	if _, err := reg.BuildLLM(VendorConfig{Provider: "openai"}); err != nil {
		t.Fatalf("expected case-insensitive lookup, got %v", err)
	}
	_, err := reg.BuildSTT(VendorConfig{Provider: "whisper"})
	if err == nil || !strings.Contains(err.Error(), "stt provider not registered: whisper") {
		t.Fatalf("unexpected error: %v", err)
	}
}
