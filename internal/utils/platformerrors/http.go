package platformerrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Error codes carried in the response envelope.
const (
	CodeMissingPrompt  = "missing_prompt"
	CodeInvalidRequest = "invalid_request"
	CodeInvalidToken   = "invalid_token"
	CodeUnauthorized   = "unauthorized"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
)

// genericMessage is the only body detail sent for server-side and upstream failures.
const genericMessage = "error"

// HTTPErrorResponse is the JSON envelope for every failed request.
type HTTPErrorResponse struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteHTTPError writes a PlatformError as an HTTP response.
// Client errors echo the error message; everything else gets the generic body.
func WriteHTTPError(c *gin.Context, err *PlatformError, log zerolog.Logger) {
	if err == nil {
		WriteInternalError(c)
		return
	}

	LogError(log, err)

	status := ErrorTypeToHTTPStatus(err.Type)
	message := err.Message
	if status >= http.StatusInternalServerError {
		message = genericMessage
	}

	c.AbortWithStatusJSON(status, HTTPErrorResponse{
		Status:    status,
		Message:   message,
		Code:      errorTypeToCode(err.Type),
		RequestID: err.RequestID,
	})
}

// WriteError writes a generic error as an HTTP response.
// If the error is a PlatformError, it will be handled appropriately.
// Otherwise, it will be treated as an internal error.
func WriteError(c *gin.Context, err error, log zerolog.Logger) {
	if err == nil {
		WriteInternalError(c)
		return
	}

	if platformErr := GetPlatformError(err); platformErr != nil {
		WriteHTTPError(c, platformErr, log)
		return
	}

	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
	WriteInternalError(c)
}

// WriteValidationError writes a 400 Bad Request response with the given code.
func WriteValidationError(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, HTTPErrorResponse{
		Status:  http.StatusBadRequest,
		Message: message,
		Code:    code,
	})
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, HTTPErrorResponse{
		Status:  http.StatusNotFound,
		Message: message,
		Code:    "not_found",
	})
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, HTTPErrorResponse{
		Status:  http.StatusInternalServerError,
		Message: genericMessage,
		Code:    CodeInternal,
	})
}

func errorTypeToCode(t ErrorType) string {
	switch t {
	case ErrorTypeValidation:
		return CodeInvalidRequest
	case ErrorTypeInvalidToken:
		return CodeInvalidToken
	case ErrorTypeUnauthorized:
		return CodeUnauthorized
	case ErrorTypeExternal, ErrorTypeTimeout:
		return CodeUpstream
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeForbidden:
		return "forbidden"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeNotImplemented:
		return "not_implemented"
	default:
		return CodeInternal
	}
}
