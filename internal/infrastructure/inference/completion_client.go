package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"resty.dev/v3"

	"ngpt-server/internal/utils/platformerrors"
)

const (
	dataPrefix           = "data:"
	doneMarker           = "[DONE]"
	scannerInitialBuffer = 12 * 1024        // 12KB
	scannerMaxBuffer     = 10 * 1024 * 1024 // 10MB
	maxErrorBodyBytes    = 4 * 1024
)

// ErrUpstreamIdle is the cause of a stream aborted by the idle watchdog.
var ErrUpstreamIdle = errors.New("upstream stream idle timeout")

// CompletionClient talks to an OpenAI-compatible chat completions endpoint.
type CompletionClient struct {
	client      *resty.Client
	baseURL     string
	apiKey      string
	name        string
	idleTimeout time.Duration
	log         zerolog.Logger
}

func NewCompletionClient(client *resty.Client, name, baseURL, apiKey string, idleTimeout time.Duration, log zerolog.Logger) *CompletionClient {
	return &CompletionClient{
		client:      client,
		baseURL:     normalizeBaseURL(baseURL),
		apiKey:      apiKey,
		name:        name,
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// StreamText starts a streaming completion and returns a reader of the model's text deltas.
// Each upstream chunk becomes exactly one write on the returned reader, in arrival order.
// Errors before the first byte are returned directly; later failures surface from Read.
// Closing the reader aborts the upstream request.
func (c *CompletionClient) StreamText(ctx context.Context, request openai.ChatCompletionRequest) (io.ReadCloser, error) {
	request.Stream = true

	streamCtx, cancel := context.WithCancelCause(ctx)
	resp, err := c.doStreamingRequest(streamCtx, request)
	if err != nil {
		cancel(err)
		return nil, err
	}

	reader, writer := io.Pipe()
	go c.pump(streamCtx, cancel, resp, writer)

	return &textStream{PipeReader: reader, cancel: cancel}, nil
}

func (c *CompletionClient) doStreamingRequest(ctx context.Context, request openai.ChatCompletionRequest) (*resty.Response, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetBody(request).
		SetDoNotParseResponse(true)
	if strings.TrimSpace(c.apiKey) != "" {
		req.SetHeader("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := req.Post(c.endpoint("/chat/completions"))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "streaming request failed", err, "4f1c8a2e-9b37-4d6e-a0f5-2e8b7c3d1a96")
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp, "streaming request failed")
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "streaming request failed: empty response body", nil, "b3e9d5a1-6c24-4f8b-9e7d-0a1f5c8b2d63")
	}
	return resp, nil
}

// pump copies text deltas from the SSE body into writer until [DONE], EOF or an error.
func (c *CompletionClient) pump(ctx context.Context, cancel context.CancelCauseFunc, resp *resty.Response, writer *io.PipeWriter) {
	body := resp.RawResponse.Body
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			c.log.Debug().Err(closeErr).Str("client", c.name).Msg("unable to close response body")
		}
		cancel(nil)
	}()

	touch, stop := c.watchIdle(cancel)
	defer stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		touch()

		data, ok := strings.CutPrefix(scanner.Text(), dataPrefix)
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == doneMarker {
			_ = writer.Close()
			return
		}

		text, err := c.parseChunk(ctx, data)
		if err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		if text == "" {
			continue
		}
		if _, err := io.WriteString(writer, text); err != nil {
			// reader closed: the caller stopped consuming
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
		_ = writer.CloseWithError(platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "upstream stream interrupted", err, "e7a2c4f9-1d85-4b3a-8c6e-5f0b9d2a7e14"))
		return
	}

	// EOF without [DONE] still ends the stream normally.
	_ = writer.Close()
}

// watchIdle cancels the stream with ErrUpstreamIdle when no line arrives for idleTimeout.
// It is inert when idleTimeout is zero.
func (c *CompletionClient) watchIdle(cancel context.CancelCauseFunc) (touch func(), stop func()) {
	if c.idleTimeout <= 0 {
		return func() {}, func() {}
	}
	var mu sync.Mutex
	timer := time.AfterFunc(c.idleTimeout, func() {
		c.log.Warn().Str("client", c.name).Dur("idle_timeout", c.idleTimeout).Msg("upstream stream stalled, aborting")
		cancel(ErrUpstreamIdle)
	})
	touch = func() {
		mu.Lock()
		timer.Reset(c.idleTimeout)
		mu.Unlock()
	}
	stop = func() {
		mu.Lock()
		timer.Stop()
		mu.Unlock()
	}
	return touch, stop
}

type streamErrorEnvelope struct {
	Error *openai.APIError `json:"error,omitempty"`
}

func (c *CompletionClient) parseChunk(ctx context.Context, data string) (string, error) {
	var envelope streamErrorEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err == nil && envelope.Error != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "upstream reported an error mid-stream", envelope.Error, "9c5d1e7b-3a48-4f2c-b6e0-8d4a2f9c1b75")
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		c.log.Debug().Err(err).Str("client", c.name).Msg("skipping unparseable stream chunk")
		return "", nil
	}

	var sb strings.Builder
	for _, choice := range chunk.Choices {
		sb.WriteString(choice.Delta.Content)
	}
	return sb.String(), nil
}

func (c *CompletionClient) errorFromResponse(ctx context.Context, resp *resty.Response, message string) error {
	contextFields := map[string]any{"status": resp.StatusCode()}
	if resp.RawResponse != nil && resp.RawResponse.Body != nil {
		defer resp.RawResponse.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxErrorBodyBytes))
		if err == nil {
			if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
				contextFields["upstream_body"] = trimmed
			}
		}
	}
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, fmt.Sprintf("%s: upstream status %d", message, resp.StatusCode()), nil, "a1f46e0d-4017-4411-ac05-987946c3066d", contextFields)
}

func (c *CompletionClient) endpoint(path string) string {
	if c.baseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// textStream cancels the upstream request when the consumer closes it.
type textStream struct {
	*io.PipeReader
	cancel context.CancelCauseFunc
}

func (s *textStream) Close() error {
	s.cancel(context.Canceled)
	return s.PipeReader.Close()
}
