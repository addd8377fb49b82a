package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonSTTTimeout    ReasonCode = "stt_timeout"

	ReasonLLMGenerate        ReasonCode = "llm_generate"
	ReasonLLMRateLimit       ReasonCode = "llm_rate_limit"
	ReasonLLMInvalidResponse ReasonCode = "llm_invalid_response"
	ReasonLLMCircuitOpen     ReasonCode = "llm_circuit_open"
	ReasonLLMRejected        ReasonCode = "llm_rejected"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"

	ReasonChannelSay    ReasonCode = "channel_say"
	ReasonChannelDevice ReasonCode = "channel_device"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportDecode           ReasonCode = "transport_decode"
)
