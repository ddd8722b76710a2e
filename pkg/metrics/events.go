package metrics

const (
	EventTurnComplete     = "turn_complete"
	EventTurnFailed       = "turn_failed"
	EventTimeToFirstAudio = "time_to_first_audio_ms"
	EventChunksSent       = "chunks_sent"
	EventAudioSegments    = "audio_segments"
	EventTranscribe       = "transcribe_ms"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

// knownEvents get their own sampling counter. The empty name is shared by
// everything else.
var knownEvents = []string{
	"",
	EventTurnComplete,
	EventTurnFailed,
	EventTimeToFirstAudio,
	EventChunksSent,
	EventAudioSegments,
	EventTranscribe,
	EventRateLimit,
	EventBreakerOpen,
	EventBreakerClose,
	EventBreakerDenied,
}
