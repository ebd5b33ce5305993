package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/domain/tokenizer"
	"ngpt-server/internal/domain/trimmer"
	"ngpt-server/internal/utils/platformerrors"
)

type fakeVerifier struct {
	verdict identity.Verdict
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (identity.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

type fakeUpstream struct {
	chunks  []string
	err     error
	calls   int
	request openai.ChatCompletionRequest
}

func (f *fakeUpstream) StreamText(_ context.Context, request openai.ChatCompletionRequest) (io.ReadCloser, error) {
	f.calls++
	f.request = request
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(strings.Join(f.chunks, ""))), nil
}

type failingBody struct{ err error }

func (b failingBody) Read([]byte) (int, error) { return 0, b.err }
func (b failingBody) Close() error             { return nil }

type bodyUpstream struct{ body io.ReadCloser }

func (u bodyUpstream) StreamText(context.Context, openai.ChatCompletionRequest) (io.ReadCloser, error) {
	return u.body, nil
}

func testProfiles() chat.ModelProfiles {
	return chat.ModelProfiles{
		Text:   chat.ModelProfile{Name: "text", Model: "o3-mini", MaxOutputTokens: 100000, ContextBudget: 128000, Temperature: 0.7, UseMaxCompletionTokens: true},
		Vision: chat.ModelProfile{Name: "vision", Model: "gpt-4o", MaxOutputTokens: 16000, ContextBudget: 128000, Temperature: 0.7, SupportsTemperature: true},
	}
}

func newTestService(verifier identity.Verifier, upstream Upstream) *Service {
	log := zerolog.Nop()
	trim := trimmer.New(tokenizer.NewHeuristicEstimator(), trimmer.BoundaryStrict, log)
	return NewService(verifier, upstream, trim, Options{
		Profiles:    testProfiles(),
		CallerLabel: "guest",
		ServiceName: "test",
	}, log)
}

func authorized() *fakeVerifier {
	return &fakeVerifier{verdict: identity.Authorized(identity.Claim{Email: "a@example.com", EmailVerified: true})}
}

func TestRelayTextProfile(t *testing.T) {
	upstream := &fakeUpstream{chunks: []string{"Hi", " there"}}
	svc := newTestService(authorized(), upstream)

	stream, err := svc.Relay(context.Background(), Request{
		Messages: []chat.Message{chat.UserMessage("Hello")},
		Token:    "token",
	})
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, stream.State())
	assert.Equal(t, "o3-mini", stream.Model())

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, "Hi there", string(out))
	assert.Equal(t, StateComplete, stream.State())
	assert.Equal(t, []State{StateIdle, StateAuthorizing, StateAuthorized, StateRequesting, StateStreaming, StateComplete}, stream.inv.path())

	req := upstream.request
	assert.Equal(t, "o3-mini", req.Model)
	assert.Equal(t, 100000, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)
	assert.Zero(t, req.Temperature)
	assert.Equal(t, float32(1), req.TopP)
	assert.Equal(t, 1, req.N)
	assert.True(t, req.Stream)
	assert.Equal(t, "guest", req.User)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Hello", req.Messages[0].Content)
}

func TestRelayVisionProfile(t *testing.T) {
	upstream := &fakeUpstream{chunks: []string{"A cat"}}
	svc := newTestService(authorized(), upstream)

	stream, err := svc.Relay(context.Background(), Request{
		Messages: []chat.Message{
			chat.UserMessage("earlier"),
			chat.AssistantMessage("ok"),
			{Role: chat.RoleUser, Content: chat.MultimodalContent("What is this?", "data:image/png;base64,AAAA")},
		},
		Token: "token",
	})
	require.NoError(t, err)
	defer stream.Close()

	req := upstream.request
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 16000, req.MaxTokens)
	assert.Zero(t, req.MaxCompletionTokens)
	assert.Equal(t, float32(0.7), req.Temperature)
	require.Len(t, req.Messages, 3)
	require.Len(t, req.Messages[2].MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", req.Messages[2].MultiContent[1].ImageURL.URL)
}

func TestRelayRejectsBeforeUpstream(t *testing.T) {
	tests := []struct {
		name     string
		verdict  identity.Verdict
		wantType platformerrors.ErrorType
		wantMsg  string
	}{
		{"invalid token", identity.Invalid("token is expired"), platformerrors.ErrorTypeInvalidToken, MessageInvalidToken},
		{"not allow-listed", identity.Unauthorized("email not allow-listed"), platformerrors.ErrorTypeUnauthorized, MessageUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeUpstream{}
			svc := newTestService(&fakeVerifier{verdict: tt.verdict}, upstream)

			stream, err := svc.Relay(context.Background(), Request{
				Messages: []chat.Message{chat.UserMessage("Hello")},
				Token:    "token",
			})
			require.Error(t, err)
			assert.Nil(t, stream)
			assert.True(t, platformerrors.IsErrorType(err, tt.wantType))
			assert.Equal(t, tt.wantMsg, platformerrors.GetPlatformError(err).Message)
			assert.Zero(t, upstream.calls)
		})
	}
}

func TestRelayValidation(t *testing.T) {
	verifier := authorized()
	upstream := &fakeUpstream{}
	svc := newTestService(verifier, upstream)

	_, err := svc.Relay(context.Background(), Request{Token: "token"})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	assert.Equal(t, MessageMissingPrompt, platformerrors.GetPlatformError(err).Message)

	_, err = svc.Relay(context.Background(), Request{
		Messages: []chat.Message{{Role: "system", Content: chat.TextContent("x")}},
		Token:    "token",
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	assert.True(t, strings.HasPrefix(platformerrors.GetPlatformError(err).Message, "Invalid request:"))

	// empty text would be dropped by the upstream encoder, so it never leaves the relay
	_, err = svc.Relay(context.Background(), Request{
		Messages: []chat.Message{chat.UserMessage("hi"), chat.AssistantMessage(""), chat.UserMessage("again")},
		Token:    "token",
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	assert.Contains(t, platformerrors.GetPlatformError(err).Message, "message 1: content must not be empty")

	assert.Zero(t, verifier.calls)
	assert.Zero(t, upstream.calls)
}

func TestRelayVerifierFault(t *testing.T) {
	upstream := &fakeUpstream{}
	svc := newTestService(&fakeVerifier{err: errors.New("jwks not loaded")}, upstream)

	_, err := svc.Relay(context.Background(), Request{
		Messages: []chat.Message{chat.UserMessage("Hello")},
		Token:    "token",
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInternal))
	assert.Zero(t, upstream.calls)
}

func TestRelayUpstreamError(t *testing.T) {
	upstreamErr := platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "streaming request failed: upstream status 500", nil, "")
	svc := newTestService(authorized(), &fakeUpstream{err: upstreamErr})

	_, err := svc.Relay(context.Background(), Request{
		Messages: []chat.Message{chat.UserMessage("Hello")},
		Token:    "token",
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeExternal))
}

func TestRelayMidStreamFailure(t *testing.T) {
	svc := newTestService(authorized(), bodyUpstream{body: failingBody{err: errors.New("connection reset")}})

	stream, err := svc.Relay(context.Background(), Request{
		Messages: []chat.Message{chat.UserMessage("Hello")},
		Token:    "token",
	})
	require.NoError(t, err)

	_, err = io.ReadAll(stream)
	require.Error(t, err)
	assert.Equal(t, StateFailed, stream.State())

	// a later Close keeps the first terminal state
	require.NoError(t, stream.Close())
	assert.Equal(t, StateFailed, stream.State())
}

func TestRelayWithoutGate(t *testing.T) {
	upstream := &fakeUpstream{chunks: []string{"ok"}}
	svc := newTestService(nil, upstream)

	stream, err := svc.Relay(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("Hello")}})
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, []State{StateIdle, StateRequesting, StateStreaming}, stream.inv.path())

	_, err = svc.Identify(context.Background(), "")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotImplemented))
}

func TestIdentify(t *testing.T) {
	claim := identity.Claim{Name: "Ada", Email: "ada@example.com", EmailVerified: true, SubjectID: "uid-1"}
	svc := newTestService(&fakeVerifier{verdict: identity.Authorized(claim)}, &fakeUpstream{})

	got, err := svc.Identify(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, claim, got)

	svc = newTestService(&fakeVerifier{verdict: identity.Unauthorized("email not verified")}, &fakeUpstream{})
	got, err = svc.Identify(context.Background(), "token")
	require.Error(t, err)
	assert.False(t, got.EmailVerified)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeUnauthorized))
}

func TestStateTransitions(t *testing.T) {
	inv := newInvocation(zerolog.Nop())
	assert.False(t, inv.transition(StateStreaming, ""))
	assert.True(t, inv.transition(StateAuthorizing, ""))
	assert.True(t, inv.transition(StateRejected, "bad token"))
	assert.False(t, inv.transition(StateRequesting, ""))
	assert.Equal(t, StateRejected, inv.current())
	assert.True(t, inv.current().Terminal())
	assert.Equal(t, "rejected", StateRejected.String())
}
