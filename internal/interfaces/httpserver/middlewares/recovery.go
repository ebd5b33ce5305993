package middlewares

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ngpt-server/internal/utils/platformerrors"
)

// Recovery turns handler panics into a logged 500. http.ErrAbortHandler is passed on to
// net/http so a handler can still cut a response off mid-body.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if recovered == http.ErrAbortHandler {
			panic(recovered)
		}
		log.Error().
			Interface("panic", recovered).
			Str("request_id", RequestIDFromContext(c)).
			Str("path", c.Request.URL.Path).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
		platformerrors.WriteInternalError(c)
	})
}
