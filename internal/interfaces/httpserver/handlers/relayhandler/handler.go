package relayhandler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"ngpt-server/internal/domain/relay"
	"ngpt-server/internal/interfaces/httpserver/middlewares"
	"ngpt-server/internal/interfaces/httpserver/requests/relayreq"
	"ngpt-server/internal/interfaces/httpserver/responses"
	"ngpt-server/internal/utils/platformerrors"
)

// IDTokenHeader carries the caller's identity token.
const IDTokenHeader = "X-Idtoken"

const streamBufferSize = 32 * 1024

// RelayHandler serves the relay and identity endpoints.
type RelayHandler struct {
	service  *relay.Service
	validate *validator.Validate
	log      zerolog.Logger
}

func NewRelayHandler(service *relay.Service, log zerolog.Logger) *RelayHandler {
	return &RelayHandler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Relay godoc
// @Summary      Relay a conversation to the completion model
// @Description  Streams the assistant's answer as unframed UTF-8 text chunks.
// @Tags         Relay
// @Accept       json
// @Produce      plain
// @Param        X-Idtoken header string true "Identity token"
// @Param        request body relayreq.RelayRequest true "Conversation"
// @Success      200 {string} string "answer text"
// @Failure      400 {object} responses.ErrorResponse
// @Failure      502 {object} responses.ErrorResponse
// @Router       /relay [post]
func (h *RelayHandler) Relay(c *gin.Context) {
	var req relayreq.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			responses.HandleValidation(c, platformerrors.CodeMissingPrompt, relay.MessageMissingPrompt)
			return
		}
		responses.HandleValidation(c, platformerrors.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}
	if err := req.Validate(h.validate); err != nil {
		if errors.Is(err, relayreq.ErrMissingPrompt) {
			responses.HandleValidation(c, platformerrors.CodeMissingPrompt, relay.MessageMissingPrompt)
			return
		}
		responses.HandleValidation(c, platformerrors.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	stream, err := h.service.Relay(ctx, relay.Request{
		Messages: req.Prompt,
		Token:    TokenFromRequest(c),
	})
	if err != nil {
		responses.HandleError(c, err, h.log)
		return
	}
	defer stream.Close()

	c.Set(middlewares.ModelKey, stream.Model())

	// Nothing is committed until the upstream produces its first chunk, so an
	// upstream that fails straight away still gets a proper error status.
	buf := make([]byte, streamBufferSize)
	n, readErr := stream.Read(buf)
	if readErr != nil && n == 0 && !errors.Is(readErr, io.EOF) {
		responses.HandleError(c, upstreamError(c, readErr), h.log)
		return
	}

	flusher, ok := middlewares.PrepareTextStream(c)
	if !ok {
		h.log.Error().Msg("response writer does not support flushing")
		responses.HandleError(c, platformerrors.NewError(ctx, platformerrors.LayerHandler, platformerrors.ErrorTypeInternal, "streaming unsupported", nil, "5e1a9c3d-7b62-4f08-a4d9-2c6e8b0f3a71"), h.log)
		return
	}
	c.Status(http.StatusOK)

	for {
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				h.log.Debug().Err(writeErr).Str("request_id", middlewares.RequestIDFromContext(c)).Msg("client went away mid-stream")
				return
			}
		}
		flusher.Flush()
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				_ = c.Error(readErr)
				h.log.Warn().Err(readErr).Str("request_id", middlewares.RequestIDFromContext(c)).Msg("upstream stream ended with error")
				// The status is already sent. Dropping the connection without the
				// terminating chunk is the only way the client learns the answer is cut short.
				panic(http.ErrAbortHandler)
			}
			return
		}
		n, readErr = stream.Read(buf)
	}
}

// upstreamError makes sure a failed first read answers as an upstream failure.
func upstreamError(c *gin.Context, err error) error {
	if platformerrors.GetPlatformError(err) != nil {
		return err
	}
	return platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler, platformerrors.ErrorTypeExternal, "upstream stream failed", err, "")
}

// Identity godoc
// @Summary      Check an identity token
// @Description  Returns the verified claim when the caller may use the relay.
// @Tags         Relay
// @Produce      json
// @Param        X-Idtoken header string true "Identity token"
// @Success      200 {object} responses.DataResponse[identity.Claim]
// @Failure      400 {object} responses.ErrorResponse
// @Router       /relay [get]
func (h *RelayHandler) Identity(c *gin.Context) {
	claim, err := h.service.Identify(c.Request.Context(), TokenFromRequest(c))
	if err != nil {
		responses.HandleError(c, err, h.log)
		return
	}
	responses.OK(c, http.StatusOK, claim)
}

// TokenFromRequest reads X-Idtoken, falling back to an Authorization bearer token.
func TokenFromRequest(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(IDTokenHeader)); token != "" {
		return token
	}
	return bearerToken(c.GetHeader("Authorization"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
