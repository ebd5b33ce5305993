// Package responses contains HTTP response envelopes and error helpers.
package responses

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ngpt-server/internal/utils/platformerrors"
)

// DataResponse wraps a successful JSON payload.
type DataResponse[T any] struct {
	Status int `json:"status"`
	Data   T   `json:"data"`
}

// ErrorResponse documents the error envelope written by platformerrors.
type ErrorResponse = platformerrors.HTTPErrorResponse

// OK writes a DataResponse with the given status.
func OK[T any](c *gin.Context, status int, data T) {
	c.JSON(status, DataResponse[T]{Status: status, Data: data})
}

// HandleError writes err using the platform error envelope.
func HandleError(c *gin.Context, err error, log zerolog.Logger) {
	platformerrors.WriteError(c, err, log.With().Str("path", c.Request.URL.Path).Logger())
}

// HandleValidation answers 400 with code and message.
func HandleValidation(c *gin.Context, code, message string) {
	platformerrors.WriteValidationError(c, code, message)
}
