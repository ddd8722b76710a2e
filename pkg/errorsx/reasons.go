package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSynthConnect     ReasonCode = "synth_connect"
	ReasonSynthInit        ReasonCode = "synth_init"
	ReasonSynthSend        ReasonCode = "synth_send"
	ReasonSynthReceive     ReasonCode = "synth_receive"
	ReasonSynthRateLimit   ReasonCode = "synth_rate_limit"
	ReasonSynthCircuitOpen ReasonCode = "synth_circuit_open"

	ReasonPlaybackDecode  ReasonCode = "playback_decode"
	ReasonPlaybackDevice  ReasonCode = "playback_device"
	ReasonPlaybackService ReasonCode = "playback_service_error"

	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTSend       ReasonCode = "stt_send"
	ReasonSTTTranscript ReasonCode = "stt_transcript"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonCaptureRead ReasonCode = "capture_read"

	ReasonTurnTimeout ReasonCode = "turn_timeout"
)
