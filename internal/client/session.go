package client

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/trimmer"
)

// ErrStreamInFlight is returned by Submit while an answer is still streaming.
var ErrStreamInFlight = errors.New("a response is already streaming")

// Relay opens an answer stream for a conversation.
type Relay interface {
	Open(ctx context.Context, messages []chat.Message, token string) (io.ReadCloser, error)
}

// TokenSource yields the identity token for the next request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Relay   Relay
	Tokens  TokenSource
	Trimmer *trimmer.Trimmer
	// Budget is the client-side context budget; zero or less sends the whole history.
	Budget   int
	Consumer *Consumer
	// OnDone receives the finalized turns after every stream that produced an answer turn,
	// whether it completed, was cancelled or broke.
	OnDone func(turns []Turn)
	Log    zerolog.Logger
}

// Result describes how a submission ended.
type Result struct {
	Outcome Outcome
	Turns   []Turn
}

// Session drives one conversation: it sends the history to the relay and accumulates the
// streamed answer into the last turn. At most one stream runs at a time.
type Session struct {
	opts SessionOptions

	mu       sync.Mutex
	turns    []Turn
	cancel   context.CancelFunc
	awaiting bool
}

func NewSession(opts SessionOptions, turns []Turn) *Session {
	if opts.Consumer == nil {
		opts.Consumer = NewConsumer()
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}
	return &Session{
		opts:  opts,
		turns: append([]Turn(nil), turns...),
	}
}

// Turns returns a copy of the conversation so far.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Streaming reports whether a submission is in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Cancel stops reading the in-flight answer. The text received so far becomes the final answer.
// The upstream model may keep generating; only local consumption stops.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit appends content as a user turn, streams the answer into a new bot turn and returns
// the finalized turns. sink, when set, also receives every chunk as it arrives.
// A request the relay rejects leaves the user turn in place and adds no bot turn.
func (s *Session) Submit(ctx context.Context, content chat.Content, sink func(chunk string)) (Result, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return Result{}, ErrStreamInFlight
	}
	s.cancel = cancel
	history := MessagesFromTurns(s.turns)
	s.turns = append(s.turns, UserTurn(content), placeholderTurn())
	s.awaiting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	messages := append(history, chat.Message{Role: chat.RoleUser, Content: content})
	if s.opts.Trimmer != nil && s.opts.Budget > 0 {
		trimmed := s.opts.Trimmer.Trim(messages, s.opts.Budget)
		messages = trimmed.Messages
	}

	body, err := s.open(streamCtx, messages)
	if err != nil {
		s.dropPlaceholder()
		if streamCtx.Err() != nil && ctx.Err() == nil {
			// cancelled before the relay answered
			return Result{Outcome: OutcomeCancelled, Turns: s.Turns()}, nil
		}
		return Result{Outcome: OutcomeFailed, Turns: s.Turns()}, err
	}
	defer body.Close()

	outcome, streamErr := s.opts.Consumer.Consume(streamCtx, body, func(chunk string) {
		s.appendChunk(chunk)
		if sink != nil {
			sink(chunk)
		}
	})

	turns := s.finalize()
	s.opts.Log.Debug().Str("outcome", outcome.String()).Int("turns", len(turns)).Msg("answer finished")
	if s.opts.OnDone != nil {
		s.opts.OnDone(turns)
	}
	return Result{Outcome: outcome, Turns: turns}, streamErr
}

func (s *Session) open(ctx context.Context, messages []chat.Message) (io.ReadCloser, error) {
	token, err := s.opts.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.opts.Relay.Open(ctx, messages, token)
}

// appendChunk replaces the placeholder with the first chunk and extends the answer afterwards.
func (s *Session) appendChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := &s.turns[len(s.turns)-1]
	if s.awaiting {
		s.awaiting = false
		last.Content = chat.TextContent(chunk)
		return
	}
	last.Content = last.Content.Append(chunk)
}

// finalize clears a placeholder that never received text and returns the turns.
func (s *Session) finalize() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaiting {
		s.awaiting = false
		s.turns[len(s.turns)-1].Content = chat.TextContent("")
	}
	return append([]Turn(nil), s.turns...)
}

func (s *Session) dropPlaceholder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); s.awaiting && n > 0 {
		s.turns = s.turns[:n-1]
	}
	s.awaiting = false
}
