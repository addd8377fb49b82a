package receptionist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/uketsuke/pkg/adapters/stt"
	"github.com/harunnryd/uketsuke/pkg/adapters/tts"
	"github.com/harunnryd/uketsuke/pkg/llm"
	"github.com/harunnryd/uketsuke/pkg/transports"
)

type LLMFactory func(vc VendorConfig) (llm.CompletionBackend, error)
type STTFactory func(vc VendorConfig) (stt.Transcriber, error)
type TTSFactory func(vc VendorConfig) (tts.Synthesizer, error)

// TransportFactory builds the call transport around the engine's handler.
type TransportFactory func(settings map[string]any, handler transports.CallHandler) (transports.Transport, error)

// ProviderRegistry maps provider names from the config onto constructors.
// Names are matched case-insensitively.
type ProviderRegistry struct {
	stt        map[string]STTFactory
	tts        map[string]TTSFactory
	llm        map[string]LLMFactory
	transports map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:        make(map[string]STTFactory),
		tts:        make(map[string]TTSFactory),
		llm:        make(map[string]LLMFactory),
		transports: make(map[string]TransportFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transports[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(vc VendorConfig) (stt.Transcriber, error) {
	fn := r.stt[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s (known: %s)", vc.Provider, known(r.stt))
	}
	return fn(vc)
}

func (r *ProviderRegistry) BuildTTS(vc VendorConfig) (tts.Synthesizer, error) {
	fn := r.tts[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s (known: %s)", vc.Provider, known(r.tts))
	}
	return fn(vc)
}

func (r *ProviderRegistry) BuildLLM(vc VendorConfig) (llm.CompletionBackend, error) {
	fn := r.llm[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s (known: %s)", vc.Provider, known(r.llm))
	}
	return fn(vc)
}

func (r *ProviderRegistry) BuildTransport(sc ServerConfig, handler transports.CallHandler) (transports.Transport, error) {
	fn := r.transports[providerKey(sc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport not registered: %s (known: %s)", sc.Provider, known(r.transports))
	}
	return fn(sc.Settings, handler)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func known[F any](m map[string]F) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
