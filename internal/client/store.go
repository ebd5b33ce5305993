package client

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConversationNotFound is returned for an unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// User is the signed-in account as reported by the relay's identity check.
type User struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// State is the client's application state.
type State struct {
	User                  *User          `yaml:"user,omitempty"`
	CurrentConversationID string         `yaml:"current_conversation_id"`
	Conversations         []Conversation `yaml:"conversations"`
}

func (s State) clone() State {
	out := State{CurrentConversationID: s.CurrentConversationID}
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	out.Conversations = make([]Conversation, len(s.Conversations))
	for i, conv := range s.Conversations {
		out.Conversations[i] = conv.clone()
	}
	return out
}

// Conversation returns the conversation with id.
func (s State) Conversation(id string) (Conversation, bool) {
	for _, conv := range s.Conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return Conversation{}, false
}

// Store holds State and notifies subscribers after every change.
// Subscribers run synchronously, outside the lock, in subscription order.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   map[uint64]func(State)
	nextID uint64
	now    func() time.Time
}

func NewStore(initial State) *Store {
	return &Store{
		state: initial.clone(),
		subs:  make(map[uint64]func(State)),
		now:   time.Now,
	}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn for change notifications and returns its unsubscribe function.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SetUser records the signed-in user, or clears it when user is nil.
func (s *Store) SetUser(user *User) {
	_ = s.update(func(state *State) error {
		if user == nil {
			state.User = nil
			return nil
		}
		u := *user
		state.User = &u
		return nil
	})
}

// StartConversation adds an empty conversation and makes it current.
func (s *Store) StartConversation() Conversation {
	conv := NewConversation(s.now())
	_ = s.update(func(state *State) error {
		state.Conversations = append([]Conversation{conv}, state.Conversations...)
		state.CurrentConversationID = conv.ID
		return nil
	})
	return conv
}

// Select makes id the current conversation.
func (s *Store) Select(id string) error {
	return s.update(func(state *State) error {
		if _, ok := state.Conversation(id); !ok {
			return ErrConversationNotFound
		}
		state.CurrentConversationID = id
		return nil
	})
}

// Current returns the current conversation, if any.
func (s *Store) Current() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.state.Conversation(s.state.CurrentConversationID)
	return conv.clone(), ok
}

// RecordTurns replaces the turns of conversation id. A conversation still carrying the
// default name is named after its first user turn.
func (s *Store) RecordTurns(id string, turns []Turn) error {
	now := s.now()
	return s.update(func(state *State) error {
		for i := range state.Conversations {
			conv := &state.Conversations[i]
			if conv.ID != id {
				continue
			}
			conv.Turns = append([]Turn(nil), turns...)
			conv.UpdatedAt = now
			if conv.Name == "" || conv.Name == DefaultConversationName {
				conv.Name = TitleFromTurns(turns)
			}
			sortByRecency(state.Conversations)
			return nil
		}
		return ErrConversationNotFound
	})
}

// Delete removes conversation id. Deleting the current conversation clears the selection.
func (s *Store) Delete(id string) error {
	return s.update(func(state *State) error {
		for i, conv := range state.Conversations {
			if conv.ID != id {
				continue
			}
			state.Conversations = append(state.Conversations[:i], state.Conversations[i+1:]...)
			if state.CurrentConversationID == id {
				state.CurrentConversationID = ""
			}
			return nil
		}
		return ErrConversationNotFound
	})
}

func (s *Store) update(fn func(*State) error) error {
	s.mu.Lock()
	next := s.state.clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	snapshot := next.clone()

	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(State), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

func sortByRecency(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
}
