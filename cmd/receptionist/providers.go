package main

import (
	"net/http"
	"time"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/configutil"
	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/providers/anthropic"
	"github.com/harunnryd/uketsuke/pkg/providers/deepgram"
	"github.com/harunnryd/uketsuke/pkg/providers/elevenlabs"
	"github.com/harunnryd/uketsuke/pkg/providers/mock"
	"github.com/harunnryd/uketsuke/pkg/providers/ollama"
	"github.com/harunnryd/uketsuke/pkg/providers/openai"
	"github.com/harunnryd/uketsuke/pkg/providers/voicevox"
	"github.com/harunnryd/uketsuke/pkg/receptionist"
	"github.com/harunnryd/uketsuke/pkg/transports"
	twiliotransport "github.com/harunnryd/uketsuke/pkg/transports/twilio"
)

type openAISettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type anthropicSettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type ollamaSettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Deterministic  *bool         `mapstructure:"deterministic"`
	MaxTemperature float64       `mapstructure:"max_temperature"`
	NumPredictCap  int           `mapstructure:"num_predict_cap"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type whisperSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
	Prompt   string `mapstructure:"prompt"`
}

type deepgramSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type voicevoxSettings struct {
	BaseURL string        `mapstructure:"base_url"`
	Speaker *int          `mapstructure:"speaker"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type elevenLabsSettings struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
	Echo         bool   `mapstructure:"echo"`
}

// registerProviders binds every provider name the config may select.
func registerProviders(reg *receptionist.ProviderRegistry) {
	reg.RegisterLLM("openai", func(vc receptionist.VendorConfig) (llm.CompletionBackend, error) {
		var s openAISettings
		if err := configutil.Decode("vendors.llm.settings", vc.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}, &s); err != nil {
			return nil, err
		}
		return openai.NewBackend(openai.Config{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL})
	})
	reg.RegisterLLM("anthropic", func(vc receptionist.VendorConfig) (llm.CompletionBackend, error) {
		var s anthropicSettings
		if err := configutil.Decode("vendors.llm.settings", vc.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}, &s); err != nil {
			return nil, err
		}
		return anthropic.NewBackend(anthropic.Config{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL})
	})
	reg.RegisterLLM("ollama", func(vc receptionist.VendorConfig) (llm.CompletionBackend, error) {
		var s ollamaSettings
		if err := configutil.Decode("vendors.llm.settings", vc.Settings, configutil.Schema{
			Required: []string{"model"},
			Optional: []string{"base_url", "deterministic", "max_temperature", "num_predict_cap", "timeout"},
		}, &s); err != nil {
			return nil, err
		}
		cfg := ollama.Config{
			BaseURL:        s.BaseURL,
			Model:          s.Model,
			Deterministic:  configutil.BoolValue(s.Deterministic, true),
			MaxTemperature: s.MaxTemperature,
			NumPredictCap:  s.NumPredictCap,
		}
		if s.Timeout > 0 {
			cfg.Client = &http.Client{Timeout: s.Timeout}
		}
		return ollama.NewBackend(cfg)
	})
	reg.RegisterLLM("mock", func(vc receptionist.VendorConfig) (llm.CompletionBackend, error) {
		var s mockLLMSettings
		if err := configutil.Decode("vendors.llm.settings", vc.Settings, configutil.Schema{
			Optional: []string{"response_text", "echo"},
		}, &s); err != nil {
			return nil, err
		}
		if s.Echo {
			return mock.Echo(), nil
		}
		if s.ResponseText == "" {
			return mock.NewBackend(mock.BackendConfig{}), nil
		}
		text := s.ResponseText
		return mock.NewBackend(mock.BackendConfig{Responder: func([]conversation.Turn, llm.CompletionOptions) (string, error) {
			return text, nil
		}}), nil
	})

	reg.RegisterSTT("whisper", func(vc receptionist.VendorConfig) (stt.Transcriber, error) {
		var s whisperSettings
		if err := configutil.Decode("vendors.stt.settings", vc.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "language", "prompt"},
		}, &s); err != nil {
			return nil, err
		}
		return openai.NewTranscriber(openai.TranscriberConfig{
			Config:   openai.Config{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL},
			Language: s.Language,
			Prompt:   s.Prompt,
		})
	})
	reg.RegisterSTT("deepgram", func(vc receptionist.VendorConfig) (stt.Transcriber, error) {
		var s deepgramSettings
		if err := configutil.Decode("vendors.stt.settings", vc.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language"},
		}, &s); err != nil {
			return nil, err
		}
		return deepgram.NewTranscriber(deepgram.Config{APIKey: s.APIKey, Model: s.Model, Language: s.Language})
	})
	reg.RegisterSTT("passthrough", func(receptionist.VendorConfig) (stt.Transcriber, error) {
		return mock.NewTranscriber(), nil
	})

	reg.RegisterTTS("voicevox", func(vc receptionist.VendorConfig) (tts.Synthesizer, error) {
		var s voicevoxSettings
		if err := configutil.Decode("vendors.tts.settings", vc.Settings, configutil.Schema{
			Optional: []string{"base_url", "speaker", "timeout"},
		}, &s); err != nil {
			return nil, err
		}
		cfg := voicevox.Config{BaseURL: s.BaseURL, Speaker: configutil.IntValue(s.Speaker, 1)}
		if s.Timeout > 0 {
			cfg.HTTPClient = &http.Client{Timeout: s.Timeout}
		}
		return voicevox.New(cfg), nil
	})
	reg.RegisterTTS("elevenlabs", func(vc receptionist.VendorConfig) (tts.Synthesizer, error) {
		var s elevenLabsSettings
		if err := configutil.Decode("vendors.tts.settings", vc.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "base_url"},
		}, &s); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{APIKey: s.APIKey, VoiceID: s.VoiceID, ModelID: s.ModelID, BaseURL: s.BaseURL})
	})
	reg.RegisterTTS("mock", func(receptionist.VendorConfig) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(), nil
	})

	reg.RegisterTransport("twilio", func(settings map[string]any, handler transports.CallHandler) (transports.Transport, error) {
		var cfg twiliotransport.Config
		if err := configutil.Decode("server.settings", settings, configutil.Schema{
			Optional: []string{
				"server_addr", "public_url", "auth_token", "voice_path", "ws_path",
				"status_callback_path", "voice_greeting", "allow_any_origin",
				"allowed_origins", "chunk_buffer", "max_backlog", "write_timeout",
			},
		}, &cfg); err != nil {
			return nil, err
		}
		return twiliotransport.New(cfg, handler), nil
	})
}
