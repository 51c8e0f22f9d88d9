package chi

// ErrorCode is the machine-readable code in an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeValidationFailed    ErrorCode = "validation_failed"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeCancelled           ErrorCode = "cancelled"
	CodeUpstreamTimeout     ErrorCode = "upstream_timeout"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeInternalError       ErrorCode = "internal_error"
)

// statusClientClosedRequest is logged when the caller disconnects before
// the answer starts; the client never sees it.
const statusClientClosedRequest = 499

// ErrorResponse is the JSON body of every non-streamed error.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
