package httpclients

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"ngpt-server/internal/utils/platformerrors"
)

const requestIDHeader = "X-Request-Id"

type startsAtKey struct{}

// NewClient returns a resty client that forwards the request id and logs every call at debug level.
// Bodies are not logged: they carry prompts and tokens.
func NewClient(clientName string, log zerolog.Logger) *resty.Client {
	client := resty.New()
	client.SetHeader("User-Agent", clientName)

	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		ctx := context.WithValue(r.Context(), startsAtKey{}, time.Now())
		if requestID := platformerrors.RequestIDFromContext(ctx); requestID != "" && r.Header.Get(requestIDHeader) == "" {
			r.SetHeader(requestIDHeader, requestID)
		}
		r.SetContext(ctx)
		return nil
	})

	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		startTime, _ := r.Request.Context().Value(startsAtKey{}).(time.Time)

		event := log.Debug().
			Str("client", clientName).
			Int("status", r.StatusCode()).
			Bool("streaming", r.Request.DoNotParseResponse).
			Dur("latency", time.Since(startTime))

		if requestID := platformerrors.RequestIDFromContext(r.Request.Context()); requestID != "" {
			event = event.Str("request_id", requestID)
		}
		if raw := r.Request.RawRequest; raw != nil {
			event = event.Str("method", raw.Method).Str("path", raw.URL.Path)
		}

		event.Msg("HTTP client request")
		return nil
	})

	return client
}
