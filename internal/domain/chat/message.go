package chat

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlaceholderText is shown in an assistant turn until its first chunk arrives. It is never sent upstream.
const PlaceholderText = "..."

// Message is the wire form of one conversation turn.
type Message struct {
	Role    Role    `json:"role" yaml:"role"`
	Content Content `json:"content" yaml:"content"`
}

// UserMessage builds a text message from the user.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// AssistantMessage builds a text message from the assistant.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// Validate checks the role and the content parts. Empty text is rejected: the upstream wire
// types drop empty fields, so it could not be forwarded as sent.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unsupported role %q", m.Role)
	}
	if err := m.Content.Validate(); err != nil {
		return err
	}
	if m.Content.Kind() == ContentText {
		if m.Content.Text() == "" {
			return errors.New("content must not be empty")
		}
		return nil
	}
	for i, p := range m.Content.Parts() {
		if p.Type == PartTypeText && p.Text == "" {
			return fmt.Errorf("part %d: text must not be empty", i)
		}
	}
	return nil
}

// HasImage reports whether any message carries an image part.
func HasImage(messages []Message) bool {
	for _, m := range messages {
		if m.Content.HasImage() {
			return true
		}
	}
	return false
}

// ToOpenAIMessages converts messages to the upstream wire type without altering their content.
func ToOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.Content.Kind() == ContentMultimodal {
			for _, p := range m.Content.Parts() {
				switch p.Type {
				case PartTypeText:
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				case PartTypeImageURL:
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
					})
				}
			}
		} else {
			msg.Content = m.Content.Text()
		}
		out = append(out, msg)
	}
	return out
}
