package constants

// Structured logging field names shared across packages.
const (
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldDuration   = "duration_ms"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "response_size"
	LogFieldComponent  = "component"
	LogFieldPlatform   = "platform"
	LogFieldMappingID  = "mapping_id"
	LogFieldThreadID   = "chat_thread_id"
	LogFieldEventID    = "event_id"
	LogFieldMessageID  = "message_id"
)
