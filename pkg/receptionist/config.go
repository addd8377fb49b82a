package receptionist

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/uketsuke/pkg/llm"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Channel       ChannelConfig       `mapstructure:"channel"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Revision      RevisionConfig      `mapstructure:"revision"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Apology       string              `mapstructure:"apology"`
	// ShutdownTimeoutMS bounds the wait for active calls during drain.
	ShutdownTimeoutMS int `mapstructure:"shutdown_timeout_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

// ServerConfig selects the call transport; settings are decoded by it.
type ServerConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ChannelConfig struct {
	// Provider is "text" (utterances as websocket text frames) or "audio"
	// (synthesized and played on the local output device).
	Provider string `mapstructure:"provider"`
}

type ConversationConfig struct {
	// Greeting seeds every log; empty uses the policy greeting for the company.
	Greeting      string `mapstructure:"greeting"`
	SeedGreeting  bool   `mapstructure:"seed_greeting"`
	SpeakGreeting bool   `mapstructure:"speak_greeting"`
}

type RevisionConfig struct {
	Enabled        bool                  `mapstructure:"enabled"`
	ContextTurns   int                   `mapstructure:"context_turns"`
	MinLengthRatio float64               `mapstructure:"min_length_ratio"`
	Options        llm.CompletionOptions `mapstructure:"options"`
	// LLM optionally points revision at a different backend than the policy.
	LLM VendorConfig `mapstructure:"llm"`
}

type PolicyConfig struct {
	Company                string                `mapstructure:"company"`
	Options                llm.CompletionOptions `mapstructure:"options"`
	NormalizePhoneReadback bool                  `mapstructure:"normalize_phone_readback"`
}

// StageResilience configures the wrappers around one external stage. Zero
// values disable the corresponding wrapper.
type StageResilience struct {
	TimeoutMS         int     `mapstructure:"timeout_ms"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelayMS       int     `mapstructure:"base_delay_ms"`
	MaxDelayMS        int     `mapstructure:"max_delay_ms"`
	Jitter            float64 `mapstructure:"jitter"`
	BreakerThreshold  int     `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int     `mapstructure:"breaker_cooldown_ms"`
}

type ResilienceConfig struct {
	Completion    StageResilience `mapstructure:"completion"`
	Transcription StageResilience `mapstructure:"transcription"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool    `mapstructure:"metrics_enabled"`
	AuditPath      string  `mapstructure:"audit_path"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	EventBuffer    int     `mapstructure:"event_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// yields the defaults alone. UKETSUKE_* environment variables override
// keys, and ${VAR} references in string values are expanded.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("UKETSUKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	// The model id belongs to the selected transcriber, so a shared key
	// would hand one vendor's model name to another.
	if v.IsSet("conversation.transcription_model") {
		return Config{}, fmt.Errorf("validate config: conversation.transcription_model is not supported; set vendors.stt.settings.model")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.provider", "twilio")
	v.SetDefault("vendors.stt.provider", "whisper")
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("vendors.tts.provider", "voicevox")
	v.SetDefault("channel.provider", "text")
	v.SetDefault("conversation.greeting", "")
	v.SetDefault("conversation.seed_greeting", true)
	v.SetDefault("conversation.speak_greeting", true)
	v.SetDefault("revision.enabled", true)
	v.SetDefault("revision.context_turns", 4)
	v.SetDefault("revision.min_length_ratio", 0.6)
	v.SetDefault("policy.company", "首無し商事株式会社")
	v.SetDefault("policy.normalize_phone_readback", true)
	v.SetDefault("resilience.completion.timeout_ms", 20000)
	v.SetDefault("resilience.completion.max_attempts", 3)
	v.SetDefault("resilience.completion.base_delay_ms", 200)
	v.SetDefault("resilience.completion.max_delay_ms", 2000)
	v.SetDefault("resilience.completion.jitter", 0.2)
	v.SetDefault("resilience.completion.breaker_threshold", 3)
	v.SetDefault("resilience.completion.breaker_cooldown_ms", 30000)
	v.SetDefault("resilience.transcription.timeout_ms", 15000)
	v.SetDefault("resilience.transcription.max_attempts", 2)
	v.SetDefault("resilience.transcription.base_delay_ms", 200)
	v.SetDefault("resilience.transcription.max_delay_ms", 1000)
	v.SetDefault("resilience.transcription.jitter", 0.2)
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.audit_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.event_buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("apology", "申し訳ございません。ただいま電話が繋がりにくくなっております。後ほどおかけ直しください。")
	v.SetDefault("shutdown_timeout_ms", 20000)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Channel.Provider)) {
	case ChannelText:
	case ChannelAudio:
		if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
			return fmt.Errorf("vendors.tts.provider is required for the audio channel")
		}
	default:
		return fmt.Errorf("channel.provider must be %q or %q, got %q", ChannelText, ChannelAudio, c.Channel.Provider)
	}
	if r := c.Revision.MinLengthRatio; r < 0 || r > 1 {
		return fmt.Errorf("revision.min_length_ratio must be within [0, 1], got %v", r)
	}
	if c.Revision.ContextTurns < 0 {
		return fmt.Errorf("revision.context_turns must not be negative")
	}
	if r := c.Observability.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1], got %v", r)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	for name, s := range map[string]StageResilience{
		"resilience.completion":    c.Resilience.Completion,
		"resilience.transcription": c.Resilience.Transcription,
	} {
		if s.TimeoutMS < 0 || s.MaxAttempts < 0 || s.BaseDelayMS < 0 || s.MaxDelayMS < 0 || s.BreakerThreshold < 0 || s.BreakerCooldownMS < 0 {
			return fmt.Errorf("%s: values must not be negative", name)
		}
		if s.Jitter < 0 || s.Jitter > 1 {
			return fmt.Errorf("%s.jitter must be within [0, 1]", name)
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Revision.LLM.Settings = expandSettings(cfg.Revision.LLM.Settings)
	cfg.Server.Settings = expandSettings(cfg.Server.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
