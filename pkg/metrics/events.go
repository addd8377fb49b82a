package metrics

// Event names emitted by the call pipeline.
const (
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"

	// EventStageLatency carries the stage duration in milliseconds as Value
	// and the stage name in the "stage" tag.
	EventStageLatency = "stage_latency"

	// EventTurnOutcome carries "outcome" = completed | skipped | fatal.
	EventTurnOutcome = "turn_outcome"

	// EventTranscriptRevised is the revision audit record (fields original, corrected, guarded).
	EventTranscriptRevised = "transcript_revised"

	EventRetry         = "retry"
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)
