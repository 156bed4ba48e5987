package models

// ErrorCode classifies every failure the pipeline can surface. Internal
// details stay in server logs under the correlation id; clients only see the
// code and a plain message.
type ErrorCode string

// Error taxonomy.
const (
	ErrPlanningFailed       ErrorCode = "planning_failed"
	ErrGenerationFailed     ErrorCode = "generation_failed"
	ErrUnsafeCode           ErrorCode = "unsafe_code"
	ErrSQLError             ErrorCode = "sql_error"
	ErrSandboxFailed        ErrorCode = "sandbox_failed"
	ErrOutputUnparseable    ErrorCode = "output_unparseable"
	ErrTransport            ErrorCode = "transport_error"
	ErrRateLimitedExhausted ErrorCode = "rate_limited_exhausted"
	ErrSchemaViolation      ErrorCode = "schema_violation"
	ErrContentRefused       ErrorCode = "content_refused"
	ErrTimeout              ErrorCode = "timeout"
	ErrCancelled            ErrorCode = "cancelled"
	ErrCatalogMiss          ErrorCode = "catalog_miss"
	ErrFormatterFailed      ErrorCode = "formatter_failed"
)

// PipelineError pairs an error code with a message. The message is safe to
// show to operators in logs; user-facing text is chosen separately.
type PipelineError struct {
	Code    ErrorCode
	Message string
}

func (e *PipelineError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewPipelineError builds a PipelineError.
func NewPipelineError(code ErrorCode, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// UserMessage maps error codes to the deliberately plain text shown to clients.
func UserMessage(code ErrorCode) string {
	switch code {
	case ErrPlanningFailed:
		return "Could not build an execution plan for this question. Please rephrase and try again."
	case ErrSchemaViolation, ErrGenerationFailed:
		return "The AI model returned malformed output. Please try again."
	case ErrUnsafeCode:
		return "The generated processing code failed safety validation."
	case ErrRateLimitedExhausted:
		return "The AI service is rate limiting requests. Please try again in a few minutes."
	case ErrCancelled:
		return "The query was cancelled."
	case ErrTimeout:
		return "The query timed out before completing."
	default:
		return "An internal error occurred while processing the query."
	}
}
