package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngpt-server/internal/config"
	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/domain/relay"
	"ngpt-server/internal/domain/tokenizer"
	"ngpt-server/internal/domain/trimmer"
	"ngpt-server/internal/infrastructure/inference"
	"ngpt-server/internal/interfaces/httpserver"
	"ngpt-server/internal/interfaces/httpserver/handlers/relayhandler"
	"ngpt-server/internal/interfaces/httpserver/routes"
	"ngpt-server/internal/utils/httpclients"
	"ngpt-server/internal/utils/platformerrors"
)

// pipeRelay streams chunks one write at a time and records what it was asked.
type pipeRelay struct {
	chunks   []string
	messages []chat.Message
	token    string
}

func (p *pipeRelay) Open(ctx context.Context, messages []chat.Message, token string) (io.ReadCloser, error) {
	p.messages = messages
	p.token = token
	reader, writer := io.Pipe()
	go func() {
		for _, chunk := range p.chunks {
			if _, err := io.WriteString(writer, chunk); err != nil {
				return
			}
		}
		writer.Close()
	}()
	return reader, nil
}

func TestSessionCancelKeepsPartialAnswer(t *testing.T) {
	chunks := make([]string, 10)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("c%d ", i)
	}
	relayStub := &pipeRelay{chunks: chunks}

	var done [][]Turn
	var session *Session
	session = NewSession(SessionOptions{
		Relay:  relayStub,
		Tokens: StaticToken("token"),
		OnDone: func(turns []Turn) { done = append(done, turns) },
		Log:    zerolog.Nop(),
	}, nil)

	received := 0
	result, err := session.Submit(context.Background(), chat.TextContent("count"), func(string) {
		received++
		if received == 2 {
			session.Cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)

	require.Len(t, result.Turns, 2)
	assert.Equal(t, "c0 c1 ", result.Turns[1].Content.Text())
	require.Len(t, done, 1)
	assert.Equal(t, result.Turns, done[0])
	assert.False(t, session.Streaming())
	assert.Equal(t, "token", relayStub.token)
}

func TestSessionBuildsHistoryWithoutPlaceholder(t *testing.T) {
	relayStub := &pipeRelay{chunks: []string{"second answer"}}
	session := NewSession(SessionOptions{Relay: relayStub, Log: zerolog.Nop()}, []Turn{
		UserTurn(chat.TextContent("first")),
		{Speaker: SpeakerBot, Content: chat.TextContent("first answer")},
	})

	result, err := session.Submit(context.Background(), chat.TextContent("second"), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)

	require.Len(t, relayStub.messages, 3)
	assert.Equal(t, chat.RoleAssistant, relayStub.messages[1].Role)
	assert.Equal(t, "second", relayStub.messages[2].Content.Text())
	for _, m := range relayStub.messages {
		assert.NotEqual(t, chat.PlaceholderText, m.Content.Text())
	}
	assert.Len(t, session.Turns(), 4)
}

func TestSessionKeepsEllipsisAnswer(t *testing.T) {
	relayStub := &pipeRelay{chunks: []string{"..."}}
	session := NewSession(SessionOptions{Relay: relayStub, Log: zerolog.Nop()}, nil)

	result, err := session.Submit(context.Background(), chat.TextContent("say three dots"), nil)
	require.NoError(t, err)
	require.Len(t, result.Turns, 2)
	assert.Equal(t, "...", result.Turns[1].Content.Text())

	relayStub.chunks = []string{"done"}
	_, err = session.Submit(context.Background(), chat.TextContent("again"), nil)
	require.NoError(t, err)
	require.Len(t, relayStub.messages, 3)
	assert.Equal(t, chat.RoleAssistant, relayStub.messages[1].Role)
	assert.Equal(t, "...", relayStub.messages[1].Content.Text())
}

func TestSessionClientTrim(t *testing.T) {
	relayStub := &pipeRelay{chunks: []string{"ok"}}
	log := zerolog.Nop()
	session := NewSession(SessionOptions{
		Relay:   relayStub,
		Trimmer: trimmer.New(tokenizer.NewHeuristicEstimator(), trimmer.BoundaryStrict, log),
		Budget:  5,
		Log:     log,
	}, []Turn{
		UserTurn(chat.TextContent("a very long first question that costs plenty of tokens")),
		{Speaker: SpeakerBot, Content: chat.TextContent("a very long first answer that costs plenty of tokens")},
	})

	_, err := session.Submit(context.Background(), chat.TextContent("short"), nil)
	require.NoError(t, err)
	require.Len(t, relayStub.messages, 1)
	assert.Equal(t, "short", relayStub.messages[0].Content.Text())
}

type blockingRelay struct {
	opened chan struct{}
}

func (b *blockingRelay) Open(ctx context.Context, _ []chat.Message, _ string) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	close(b.opened)
	go func() {
		<-ctx.Done()
		writer.Close()
	}()
	return reader, nil
}

func TestSessionRejectsConcurrentSubmit(t *testing.T) {
	relayStub := &blockingRelay{opened: make(chan struct{})}
	session := NewSession(SessionOptions{Relay: relayStub, Log: zerolog.Nop()}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = session.Submit(context.Background(), chat.TextContent("first"), nil)
	}()

	<-relayStub.opened
	_, err := session.Submit(context.Background(), chat.TextContent("second"), nil)
	assert.ErrorIs(t, err, ErrStreamInFlight)

	session.Cancel()
	wg.Wait()
	assert.False(t, session.Streaming())
}

// relay server wiring for end-to-end tests

type e2eVerifier struct{}

func (e2eVerifier) Verify(_ context.Context, raw string) (identity.Verdict, error) {
	if raw == "good" {
		return identity.Authorized(identity.Claim{Name: "Ada", Email: "ada@example.com", EmailVerified: true, SubjectID: "uid-1"}), nil
	}
	return identity.Invalid("token is expired"), nil
}

type e2eServer struct {
	relayURL      string
	upstreamCalls atomic.Int32
	upstreamSaw   atomic.Value
}

func newE2EServer(t *testing.T, chunks ...string) *e2eServer {
	t.Helper()
	return newE2EServerWith(t, func(w http.ResponseWriter) {
		writeDeltas(w, chunks...)
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
}

func writeDeltas(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, chunk := range chunks {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": chunk}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		w.(http.Flusher).Flush()
	}
}

func newE2EServerWith(t *testing.T, upstreamHandler func(w http.ResponseWriter)) *e2eServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	env := &e2eServer{}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.upstreamCalls.Add(1)
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		env.upstreamSaw.Store(req)
		upstreamHandler(w)
	}))
	t.Cleanup(upstream.Close)

	completion := inference.NewCompletionClient(httpclients.NewClient("e2e-upstream", log), "e2e-upstream", upstream.URL, "sk-test", 0, log)
	service := relay.NewService(e2eVerifier{}, completion, trimmer.New(tokenizer.NewHeuristicEstimator(), trimmer.BoundaryStrict, log), relay.Options{
		Profiles: chat.ModelProfiles{
			Text:   chat.ModelProfile{Name: "text", Model: "o3-mini", MaxOutputTokens: 100000, ContextBudget: 128000, UseMaxCompletionTokens: true},
			Vision: chat.ModelProfile{Name: "vision", Model: "gpt-4o", MaxOutputTokens: 16000, ContextBudget: 128000, SupportsTemperature: true, Temperature: 0.7},
		},
		CallerLabel: "guest",
		ServiceName: "e2e",
	}, log)

	cfg := &config.Config{ServiceName: "e2e", Environment: "test"}
	server := httpserver.New(cfg, log, routes.NewRelayRoute(relayhandler.NewRelayHandler(service, log)))
	relayServer := httptest.NewServer(server.Handler())
	t.Cleanup(relayServer.Close)

	env.relayURL = relayServer.URL
	return env
}

func TestSubmitEndToEnd(t *testing.T) {
	env := newE2EServer(t, "Hi", " there", "!")
	log := zerolog.Nop()

	var done []Turn
	session := NewSession(SessionOptions{
		Relay:  NewRelayClient(httpclients.NewClient("ngpt-cli", log), env.relayURL, log),
		Tokens: StaticToken("good"),
		OnDone: func(turns []Turn) { done = turns },
		Log:    log,
	}, nil)

	result, err := session.Submit(context.Background(), chat.TextContent("Hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)

	want := []Turn{
		UserTurn(chat.TextContent("Hello")),
		{Speaker: SpeakerBot, Content: chat.TextContent("Hi there!")},
	}
	assert.Equal(t, want, done)
	assert.Equal(t, want, result.Turns)

	assert.Equal(t, int32(1), env.upstreamCalls.Load())
	sent := env.upstreamSaw.Load().(openai.ChatCompletionRequest)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "Hello", sent.Messages[0].Content)
}

func TestSubmitUpstreamFailsMidStream(t *testing.T) {
	env := newE2EServerWith(t, func(w http.ResponseWriter) {
		writeDeltas(w, "partial")
		_, _ = io.WriteString(w, `data: {"error":{"message":"model overloaded"}}`+"\n\n")
	})
	log := zerolog.Nop()

	var done []Turn
	session := NewSession(SessionOptions{
		Relay:  NewRelayClient(httpclients.NewClient("ngpt-cli", log), env.relayURL, log),
		Tokens: StaticToken("good"),
		OnDone: func(turns []Turn) { done = turns },
		Log:    log,
	}, nil)

	result, err := session.Submit(context.Background(), chat.TextContent("Hello"), nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	want := []Turn{
		UserTurn(chat.TextContent("Hello")),
		{Speaker: SpeakerBot, Content: chat.TextContent("partial")},
	}
	assert.Equal(t, want, result.Turns)
	assert.Equal(t, want, done)
}

func TestSubmitUpstreamFailsBeforeFirstChunk(t *testing.T) {
	env := newE2EServerWith(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"error":{"message":"model overloaded"}}`+"\n\n")
	})
	log := zerolog.Nop()

	onDoneCalled := false
	session := NewSession(SessionOptions{
		Relay:  NewRelayClient(httpclients.NewClient("ngpt-cli", log), env.relayURL, log),
		Tokens: StaticToken("good"),
		OnDone: func([]Turn) { onDoneCalled = true },
		Log:    log,
	}, nil)

	result, err := session.Submit(context.Background(), chat.TextContent("Hello"), nil)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeExternal), err.Error())
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, []Turn{UserTurn(chat.TextContent("Hello"))}, result.Turns)
	assert.False(t, onDoneCalled)
	assert.Equal(t, int32(1), env.upstreamCalls.Load())
}

func TestSubmitExpiredToken(t *testing.T) {
	env := newE2EServer(t, "never")
	log := zerolog.Nop()

	onDoneCalled := false
	session := NewSession(SessionOptions{
		Relay:  NewRelayClient(httpclients.NewClient("ngpt-cli", log), env.relayURL, log),
		Tokens: StaticToken("expired"),
		OnDone: func([]Turn) { onDoneCalled = true },
		Log:    log,
	}, nil)

	result, err := session.Submit(context.Background(), chat.TextContent("Hello"), nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInvalidToken))

	pe := platformerrors.GetPlatformError(err)
	assert.Equal(t, "Invalid token", pe.Message)
	assert.Equal(t, http.StatusBadRequest, pe.Context["status"])

	require.Len(t, result.Turns, 1)
	assert.Equal(t, SpeakerUser, result.Turns[0].Speaker)
	assert.False(t, onDoneCalled)
	assert.Zero(t, env.upstreamCalls.Load())
}

func TestRelayClientIdentity(t *testing.T) {
	env := newE2EServer(t)
	log := zerolog.Nop()
	client := NewRelayClient(httpclients.NewClient("ngpt-cli", log), env.relayURL, log)

	claim, err := client.Identity(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claim.Email)
	assert.Equal(t, "uid-1", claim.SubjectID)
	assert.True(t, claim.EmailVerified)

	claim, err = client.Identity(context.Background(), "expired")
	require.Error(t, err)
	assert.False(t, claim.EmailVerified)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInvalidToken))
}
