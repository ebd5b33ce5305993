package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/utils/platformerrors"
)

// IDTokenHeader carries the identity token to the relay.
const IDTokenHeader = "X-Idtoken"

const (
	relayPath         = "/relay"
	maxErrorBodyBytes = 4 * 1024
)

// RelayClient calls the relay server.
type RelayClient struct {
	client  *resty.Client
	baseURL string
	log     zerolog.Logger
}

func NewRelayClient(client *resty.Client, baseURL string, log zerolog.Logger) *RelayClient {
	return &RelayClient{
		client:  client,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		log:     log,
	}
}

type relayBody struct {
	Prompt []chat.Message `json:"prompt"`
}

// Open posts the conversation and returns the streamed answer body. Cancelling ctx aborts
// the read. Rejections come back as platform errors carrying the server's message and code.
func (c *RelayClient) Open(ctx context.Context, messages []chat.Message, token string) (io.ReadCloser, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(IDTokenHeader, token).
		SetBody(relayBody{Prompt: messages}).
		SetDoNotParseResponse(true).
		Post(c.baseURL + relayPath)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerClient, platformerrors.ErrorTypeExternal, "relay request failed", err, "2c7f0a94-e5b1-4d38-9a6e-f1b4c8d3e207")
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp)
	}
	if resp.Body == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerClient, platformerrors.ErrorTypeExternal, "relay returned no body", nil, "7b1e4d92-3a6c-4f85-b0d7-e9c2a5f8163d")
	}
	return resp.Body, nil
}

type identityEnvelope struct {
	Status int `json:"status"`
	Data   struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		UserID        string `json:"user_id"`
		IssuedAt      int64  `json:"iat"`
		ExpiresAt     int64  `json:"exp"`
	} `json:"data"`
}

// Identity asks the relay who token belongs to.
func (c *RelayClient) Identity(ctx context.Context, token string) (identity.Claim, error) {
	var envelope identityEnvelope
	var failure platformerrors.HTTPErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(IDTokenHeader, token).
		SetResult(&envelope).
		SetError(&failure).
		Get(c.baseURL + relayPath)
	if err != nil {
		return identity.Rejected(), platformerrors.NewError(ctx, platformerrors.LayerClient, platformerrors.ErrorTypeExternal, "identity request failed", err, "c4a9e1f7-2d58-4b3c-86e0-5f7b1a9d2c46")
	}
	if resp.IsError() {
		return identity.Rejected(), c.errorFromEnvelope(ctx, resp.StatusCode(), failure)
	}

	claim := identity.Claim{
		Name:          envelope.Data.Name,
		Email:         envelope.Data.Email,
		EmailVerified: envelope.Data.EmailVerified,
		SubjectID:     envelope.Data.UserID,
	}
	if envelope.Data.IssuedAt > 0 {
		claim.IssuedAt = time.Unix(envelope.Data.IssuedAt, 0)
	}
	if envelope.Data.ExpiresAt > 0 {
		claim.ExpiresAt = time.Unix(envelope.Data.ExpiresAt, 0)
	}
	return claim, nil
}

func (c *RelayClient) errorFromResponse(ctx context.Context, resp *resty.Response) error {
	var envelope platformerrors.HTTPErrorResponse
	if resp.Body != nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if err := json.Unmarshal(body, &envelope); err != nil {
			envelope.Message = strings.TrimSpace(string(body))
		}
	}
	return c.errorFromEnvelope(ctx, resp.StatusCode(), envelope)
}

func (c *RelayClient) errorFromEnvelope(ctx context.Context, status int, envelope platformerrors.HTTPErrorResponse) error {
	if envelope.Message == "" {
		envelope.Message = fmt.Sprintf("relay answered %d", status)
	}

	c.log.Debug().Int("status", status).Str("code", envelope.Code).Msg("relay rejected request")

	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerClient, errorTypeForCode(envelope.Code, status), envelope.Message, nil, "e8d3b6a1-4f97-4c20-a5e8-1b9c7d2f0a53", map[string]any{
		"status": status,
		"code":   envelope.Code,
	})
}

func errorTypeForCode(code string, status int) platformerrors.ErrorType {
	switch code {
	case platformerrors.CodeInvalidToken:
		return platformerrors.ErrorTypeInvalidToken
	case platformerrors.CodeUnauthorized:
		return platformerrors.ErrorTypeUnauthorized
	case platformerrors.CodeMissingPrompt, platformerrors.CodeInvalidRequest:
		return platformerrors.ErrorTypeValidation
	case platformerrors.CodeUpstream:
		return platformerrors.ErrorTypeExternal
	}
	switch {
	case status == 501:
		return platformerrors.ErrorTypeNotImplemented
	case status >= 500:
		return platformerrors.ErrorTypeExternal
	case status >= 400:
		return platformerrors.ErrorTypeValidation
	default:
		return platformerrors.ErrorTypeInternal
	}
}
