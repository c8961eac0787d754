package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID identifies one ingestion cycle
	FieldRunID = "run_id"

	// FieldPeriod is the disclosure period being processed (2024-03 or 2024)
	FieldPeriod = "period"

	// FieldReleaseID is the natural id of a release
	FieldReleaseID = "release_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldBatch      = "batch"
	FieldSize       = "size"
)
