package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a record for filtering (e.g. "decode_failed").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldConnectionID identifies one client connection on the control socket.
	FieldConnectionID = "connection_id"
	// FieldRequestID echoes the client supplied request id.
	FieldRequestID = "request_id"
	// FieldRequestType is the protocol request type being handled.
	FieldRequestType = "request_type"
	// FieldAccount is the account identifier (phone number) a record concerns.
	FieldAccount = "account"
	// FieldRawLine carries the raw protocol line for diagnosis.
	FieldRawLine = "raw_line"
)
