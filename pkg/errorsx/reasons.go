package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"

	ReasonTurnQueueFull    ReasonCode = "turn_queue_full"
	ReasonBridgeInactive   ReasonCode = "bridge_inactive"
	ReasonPlaybackCancel   ReasonCode = "playback_cancel"
	ReasonPlaybackDetached ReasonCode = "playback_detached"

	ReasonCacheGet       ReasonCode = "cache_get"
	ReasonCacheSet       ReasonCode = "cache_set"
	ReasonCacheDelete    ReasonCode = "cache_delete"
	ReasonCacheScan      ReasonCode = "cache_scan"
	ReasonCacheMigrate   ReasonCode = "cache_migrate"
	ReasonCacheDegraded  ReasonCode = "cache_degraded"
	ReasonStateNotFound  ReasonCode = "state_not_found"
	ReasonStateCorrupted ReasonCode = "state_corrupted"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportStop             ReasonCode = "transport_stop"
)
