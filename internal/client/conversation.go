package client

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"ngpt-server/internal/domain/chat"
)

// DefaultConversationName is used until the first user turn names the conversation.
const DefaultConversationName = "New Conversation"

const (
	titleMaxLen      = 60
	titleMinBreakLen = 30
)

// Speaker is who produced a turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// Turn is one displayed entry of a conversation.
type Turn struct {
	Speaker Speaker      `yaml:"speaker"`
	Content chat.Content `yaml:"content"`
}

func UserTurn(content chat.Content) Turn {
	return Turn{Speaker: SpeakerUser, Content: content}
}

// placeholderTurn is shown until the first chunk of the answer arrives.
func placeholderTurn() Turn {
	return Turn{Speaker: SpeakerBot, Content: chat.TextContent(chat.PlaceholderText)}
}

// Message converts the turn to its wire form.
func (t Turn) Message() chat.Message {
	role := chat.RoleUser
	if t.Speaker == SpeakerBot {
		role = chat.RoleAssistant
	}
	return chat.Message{Role: role, Content: t.Content}
}

// Conversation is a named list of turns.
type Conversation struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Turns     []Turn    `yaml:"turns"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// NewConversation returns an empty conversation with a fresh id.
func NewConversation(now time.Time) Conversation {
	return Conversation{
		ID:        uuid.NewString(),
		Name:      DefaultConversationName,
		UpdatedAt: now,
	}
}

func (c Conversation) clone() Conversation {
	out := c
	out.Turns = append([]Turn(nil), c.Turns...)
	return out
}

// TitleFromTurns derives a conversation name from the first user turn with text.
func TitleFromTurns(turns []Turn) string {
	for _, turn := range turns {
		if turn.Speaker != SpeakerUser {
			continue
		}
		content := strings.TrimSpace(turn.Content.Text())
		if content == "" {
			continue
		}
		runes := []rune(content)
		if len(runes) <= titleMaxLen {
			return content
		}
		truncated := string(runes[:titleMaxLen])
		if lastSpace := strings.LastIndex(truncated, " "); lastSpace > titleMinBreakLen {
			return truncated[:lastSpace] + "..."
		}
		return truncated + "..."
	}
	return DefaultConversationName
}

// MessagesFromTurns builds the upstream history from finalized turns. Empty answers are never
// sent. The pending placeholder is tracked by Session and never reaches a finalized turn list.
func MessagesFromTurns(turns []Turn) []chat.Message {
	out := make([]chat.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Content.IsEmpty() {
			continue
		}
		out = append(out, turn.Message())
	}
	return out
}
