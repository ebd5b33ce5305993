package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/domain/trimmer"
	"ngpt-server/internal/infrastructure/metrics"
	"ngpt-server/internal/infrastructure/observability"
	"ngpt-server/internal/utils/platformerrors"
)

// Client-facing messages for rejected requests.
const (
	MessageMissingPrompt = "No prompt in the request."
	MessageInvalidToken  = "Invalid token"
	MessageUnauthorized  = "Email not verified or not whitelisted"
)

// Upstream streams the text deltas of one completion.
type Upstream interface {
	StreamText(ctx context.Context, request openai.ChatCompletionRequest) (io.ReadCloser, error)
}

// Options configures a Service.
type Options struct {
	Profiles    chat.ModelProfiles
	CallerLabel string
	ServiceName string
}

// Request is one relay call: the conversation so far and the caller's raw identity token.
type Request struct {
	Messages []chat.Message
	Token    string
}

// Service authorizes a caller, shapes the upstream request and hands back its text stream.
type Service struct {
	verifier identity.Verifier
	upstream Upstream
	trimmer  *trimmer.Trimmer
	opts     Options
	log      zerolog.Logger
}

// NewService returns a relay service. A nil verifier disables the access gate.
func NewService(verifier identity.Verifier, upstream Upstream, trim *trimmer.Trimmer, opts Options, log zerolog.Logger) *Service {
	return &Service{
		verifier: verifier,
		upstream: upstream,
		trimmer:  trim,
		opts:     opts,
		log:      log,
	}
}

// Relay runs the invocation up to the point where the upstream starts streaming.
// Any error is returned before a single byte of the answer is available, so callers can still
// choose the status code.
func (s *Service) Relay(ctx context.Context, req Request) (*Stream, error) {
	log := s.log.With().Str("request_id", platformerrors.RequestIDFromContext(ctx)).Logger()
	inv := newInvocation(log)

	ctx, span := observability.StartSpan(ctx, s.opts.ServiceName, "relay",
		attribute.Int("relay.messages", len(req.Messages)),
	)

	fail := func(state State, reason string, err error) (*Stream, error) {
		inv.transition(state, reason)
		observability.EndSpan(span, err)
		return nil, err
	}

	if len(req.Messages) == 0 {
		return fail(StateFailed, "empty prompt", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, MessageMissingPrompt, nil, "3b8e1f5c-7a24-4d96-b0c3-e2f5a9d71c48"))
	}
	for i, message := range req.Messages {
		if err := message.Validate(); err != nil {
			return fail(StateFailed, "invalid message", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, fmt.Sprintf("Invalid request: message %d: %s", i, err.Error()), err, "d5a2c7e9-1f38-4b6a-8e0d-4c9b3f7a2e15"))
		}
	}

	if s.verifier != nil {
		inv.transition(StateAuthorizing, "")
		verdict, err := s.verifier.Verify(ctx, req.Token)
		if err != nil {
			return fail(StateFailed, "verifier unavailable", platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "verify identity token"))
		}
		switch verdict.Outcome {
		case identity.OutcomeAuthorized:
			inv.transition(StateAuthorized, "")
			observability.AddSpanAttributes(ctx, attribute.Bool("relay.authorized", true))
		case identity.OutcomeUnauthorized:
			return fail(StateRejected, verdict.Reason, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnauthorized, MessageUnauthorized, nil, "6f0c4a9e-2d71-4b58-93e6-a1c8d5f2b07e"))
		default:
			return fail(StateRejected, verdict.Reason, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInvalidToken, MessageInvalidToken, nil, "8a3d6e1b-5c97-4f20-b4a8-0e7f2c9d16b3"))
		}
	}

	profile := s.opts.Profiles.Select(req.Messages)
	trimmed := s.trimmer.Trim(req.Messages, profile.ContextBudget)
	metrics.RecordTrim(profile.Model, trimmed.TrimmedCount, trimmed.EstimatedTokens)

	upstreamRequest := BuildUpstreamRequest(profile, trimmed.Messages, s.opts.CallerLabel)
	observability.AddSpanAttributes(ctx,
		attribute.String("relay.model", profile.Model),
		attribute.String("relay.profile", profile.Name),
		attribute.Int("relay.trimmed", trimmed.TrimmedCount),
		attribute.Int("relay.estimated_tokens", trimmed.EstimatedTokens),
	)

	inv.transition(StateRequesting, profile.Model)
	started := time.Now()
	body, err := s.upstream.StreamText(ctx, upstreamRequest)
	if err != nil {
		metrics.RecordUpstreamError(profile.Model, "request")
		metrics.RecordUpstreamDuration(profile.Model, "error", time.Since(started).Seconds())
		return fail(StateFailed, "upstream request failed", platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "start upstream completion"))
	}

	inv.transition(StateStreaming, "")
	metrics.IncrementActiveStreams(profile.Model)

	log.Info().
		Str("model", profile.Model).
		Int("messages", len(trimmed.Messages)).
		Int("trimmed_count", trimmed.TrimmedCount).
		Int("estimated_tokens", trimmed.EstimatedTokens).
		Msg("relay streaming")

	return &Stream{
		body:    body,
		inv:     inv,
		span:    span,
		model:   profile.Model,
		started: started,
		log:     log,
	}, nil
}

// Identify checks the token and returns the verified claim.
func (s *Service) Identify(ctx context.Context, token string) (identity.Claim, error) {
	if s.verifier == nil {
		return identity.Rejected(), platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotImplemented, "access gate disabled", nil, "c17e9b42-08d5-4a3f-b6c1-5e2a7d9f0c83")
	}

	verdict, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return identity.Rejected(), platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "verify identity token")
	}
	switch verdict.Outcome {
	case identity.OutcomeAuthorized:
		return verdict.Claim, nil
	case identity.OutcomeUnauthorized:
		return identity.Rejected(), platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnauthorized, MessageUnauthorized, nil, "4e9a2d7f-6b13-4c85-a0f1-b8d3e6c5a29d")
	default:
		return identity.Rejected(), platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInvalidToken, MessageInvalidToken, nil, "f2b7c0e5-9d46-4a1b-83c7-6e0a5d9f4b12")
	}
}

// Stream is the answer of an authorized relay call. Each Read yields upstream text in order.
// Read reports io.EOF once the upstream finished and any other error if it failed mid-stream.
type Stream struct {
	body    io.ReadCloser
	inv     *invocation
	span    trace.Span
	model   string
	started time.Time
	log     zerolog.Logger

	firstChunk sync.Once
	finish     sync.Once
	bytes      int64
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 {
		s.firstChunk.Do(func() {
			metrics.RecordFirstChunk(s.model, time.Since(s.started).Seconds())
		})
		s.bytes += int64(n)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.end(StateComplete, nil)
	default:
		metrics.RecordUpstreamError(s.model, "stream")
		s.end(StateFailed, err)
	}
	return n, err
}

// Close releases the upstream connection. Closing before EOF counts as a failed invocation.
func (s *Stream) Close() error {
	err := s.body.Close()
	s.end(StateFailed, errStreamAbandoned)
	return err
}

// State is the current lifecycle state of the invocation.
func (s *Stream) State() State {
	return s.inv.current()
}

// Model is the upstream model serving this stream.
func (s *Stream) Model() string {
	return s.model
}

var errStreamAbandoned = errors.New("stream closed before upstream finished")

func (s *Stream) end(state State, err error) {
	s.finish.Do(func() {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		s.inv.transition(state, reason)

		outcome := "complete"
		if state == StateFailed {
			outcome = "error"
		}
		elapsed := time.Since(s.started)
		metrics.DecrementActiveStreams(s.model)
		metrics.RecordUpstreamDuration(s.model, outcome, elapsed.Seconds())

		s.span.SetAttributes(attribute.Int64("relay.bytes", s.bytes))
		observability.EndSpan(s.span, err)

		event := s.log.Info()
		if err != nil {
			event = s.log.Warn().Err(err)
		}
		event.
			Str("model", s.model).
			Int64("bytes", s.bytes).
			Dur("elapsed", elapsed).
			Str("state", state.String()).
			Msg("relay finished")
	})
}
