package relay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is the lifecycle position of one relay invocation.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateRejected
	StateAuthorized
	StateRequesting
	StateStreaming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateRejected:
		return "rejected"
	case StateAuthorized:
		return "authorized"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateComplete || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:        {StateAuthorizing, StateRequesting, StateFailed},
	StateAuthorizing: {StateRejected, StateAuthorized, StateFailed},
	StateAuthorized:  {StateRequesting, StateFailed},
	StateRequesting:  {StateStreaming, StateFailed},
	StateStreaming:   {StateComplete, StateFailed},
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// invocation tracks the state of a single relay call.
type invocation struct {
	mu      sync.Mutex
	state   State
	history []State
	log     zerolog.Logger
}

func newInvocation(log zerolog.Logger) *invocation {
	return &invocation{state: StateIdle, history: []State{StateIdle}, log: log}
}

// transition moves to next and reports whether the move was legal.
// Illegal moves are logged and ignored so a terminal state is never left.
func (inv *invocation) transition(next State, reason string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if !allowed(inv.state, next) {
		inv.log.Error().
			Str("from", inv.state.String()).
			Str("to", next.String()).
			Msg("illegal relay state transition")
		return false
	}

	event := inv.log.Debug().
		Str("from", inv.state.String()).
		Str("to", next.String())
	if reason != "" {
		event = event.Str("reason", reason)
	}
	event.Msg("relay state")

	inv.state = next
	inv.history = append(inv.history, next)
	return true
}

func (inv *invocation) current() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

func (inv *invocation) path() []State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]State, len(inv.history))
	copy(out, inv.history)
	return out
}
