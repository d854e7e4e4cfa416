package protocol

// Wire error codes. Logical failures travel as an ErrorBody inside a normal
// response frame; the connection stays up.
const (
	CodeInvalidParams      = "INVALID_PARAMS"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeUnknownMethod      = "UNKNOWN_METHOD"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeQueryFailed        = "QUERY_FAILED"
	CodeNoData             = "NO_DATA"
	CodeInternalError      = "INTERNAL_ERROR"
)

// ErrorBody is the wire error envelope: {"error": {"code", "message"}}.
type ErrorBody struct {
	Error ErrorDetail `msgpack:"error" json:"error"`
}

// ErrorDetail names the failure.
type ErrorDetail struct {
	Code    string `msgpack:"code" json:"code"`
	Message string `msgpack:"message" json:"message"`
}

// NewError builds an encoded error envelope. Encoding a flat struct of two
// strings cannot fail, so the error from msgpack is ignored.
func NewError(code, message string) []byte {
	data, _ := EncodeBody(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
	return data
}

// IsError reports whether a response body is an error envelope, returning the
// detail when it is.
func IsError(body []byte) (ErrorDetail, bool) {
	var eb ErrorBody
	if err := DecodeBody(body, &eb); err != nil {
		return ErrorDetail{}, false
	}
	if eb.Error.Code == "" {
		return ErrorDetail{}, false
	}
	return eb.Error, true
}
