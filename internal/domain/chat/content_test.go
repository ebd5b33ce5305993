package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestContentUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind ContentKind
		wantText string
		hasImage bool
		wantErr  bool
	}{
		{name: "plain string", raw: `"Hello"`, wantKind: ContentText, wantText: "Hello"},
		{name: "null is empty text", raw: `null`, wantKind: ContentText, wantText: ""},
		{
			name:     "text and image",
			raw:      `[{"type":"text","text":"what is this?"},{"type":"image_url","image_url":{"url":"https://x.test/a.png"}}]`,
			wantKind: ContentMultimodal,
			wantText: "what is this?",
			hasImage: true,
		},
		{name: "unknown part type", raw: `[{"type":"audio","text":"x"}]`, wantErr: true},
		{name: "image without url", raw: `[{"type":"image_url"}]`, wantErr: true},
		{name: "empty parts", raw: `[]`, wantErr: true},
		{name: "object", raw: `{"text":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.raw), &c)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, c.Kind())
			assert.Equal(t, tt.wantText, c.Text())
			assert.Equal(t, tt.hasImage, c.HasImage())
		})
	}
}

func TestMultimodalWireShape(t *testing.T) {
	msg := Message{Role: RoleUser, Content: MultimodalContent("look", "data:image/png;base64,AAA&b")}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA&b"}}]}`,
		string(raw))

	// Canonical form keeps characters the default encoder would escape.
	assert.Contains(t, msg.Content.Canonical(), "AAA&b")
}

func TestContentYAML(t *testing.T) {
	in := []Message{
		UserMessage("hi"),
		{Role: RoleUser, Content: MultimodalContent("see", "https://x.test/i.png")},
	}

	raw, err := yaml.Marshal(in)
	require.NoError(t, err)

	var out []Message
	require.NoError(t, yaml.Unmarshal(raw, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "hi", out[0].Content.Text())
	assert.True(t, out[1].Content.HasImage())
	assert.Equal(t, in[1].Content.Parts(), out[1].Content.Parts())
}

func TestAppendOnlyExtendsText(t *testing.T) {
	c := TextContent("ab").Append("c")
	assert.Equal(t, "abc", c.Text())

	m := MultimodalContent("x", "https://x.test/i.png")
	assert.Equal(t, m.Parts(), m.Append("y").Parts())
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, UserMessage("x").Validate())
	assert.NoError(t, AssistantMessage("x").Validate())
	assert.Error(t, Message{Role: "system", Content: TextContent("x")}.Validate())

	assert.ErrorContains(t, AssistantMessage("").Validate(), "content must not be empty")
	assert.ErrorContains(t, Message{Role: RoleUser, Content: MultimodalContent("", "https://x.test/i.png")}.Validate(), "part 0: text must not be empty")
	assert.NoError(t, Message{Role: RoleUser, Content: PartsContent(ImagePart("https://x.test/i.png"))}.Validate())
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := ToOpenAIMessages([]Message{
		UserMessage("Hello"),
		{Role: RoleUser, Content: MultimodalContent("what", "https://x.test/i.png")},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Empty(t, msgs[0].MultiContent)

	raw, err := json.Marshal(msgs[1])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"role":"user","content":[{"type":"text","text":"what"},{"type":"image_url","image_url":{"url":"https://x.test/i.png"}}]}`,
		string(raw))
}

func TestProfilesSelect(t *testing.T) {
	profiles := ModelProfiles{
		Text:   ModelProfile{Name: "text", Model: "o3-mini", MaxOutputTokens: 100000},
		Vision: ModelProfile{Name: "vision", Model: "gpt-4o", MaxOutputTokens: 16000},
	}

	got := profiles.Select([]Message{UserMessage("hello")})
	assert.Equal(t, "o3-mini", got.Model)
	assert.Equal(t, 100000, got.MaxOutputTokens)

	got = profiles.Select([]Message{
		{Role: RoleUser, Content: MultimodalContent("what", "https://x.test/i.png")},
		AssistantMessage("a cat"),
		UserMessage("thanks"),
	})
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 16000, got.MaxOutputTokens)
}
