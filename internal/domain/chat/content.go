package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ContentKind discriminates the Content union.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentMultimodal
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentMultimodal:
		return "multimodal"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

// PartType is the "type" field of a multimodal part.
type PartType string

const (
	PartTypeText     PartType = "text"
	PartTypeImageURL PartType = "image_url"
)

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL string `json:"url" yaml:"url"`
}

// Part is one element of multimodal content.
type Part struct {
	Type     PartType  `json:"type" yaml:"type"`
	Text     string    `json:"text,omitempty" yaml:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// ImagePart returns an image part pointing at url.
func ImagePart(url string) Part {
	return Part{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

func (p Part) validate() error {
	switch p.Type {
	case PartTypeText:
		if p.ImageURL != nil {
			return errors.New("text part must not carry image_url")
		}
		return nil
	case PartTypeImageURL:
		if p.ImageURL == nil || strings.TrimSpace(p.ImageURL.URL) == "" {
			return errors.New("image_url part requires a url")
		}
		return nil
	default:
		return fmt.Errorf("unsupported content part type %q", p.Type)
	}
}

// Content is either plain text or an ordered list of parts. The zero value is empty text.
type Content struct {
	kind  ContentKind
	text  string
	parts []Part
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{kind: ContentText, text: text}
}

// MultimodalContent pairs a text segment with an image reference, in that order.
func MultimodalContent(text, imageURL string) Content {
	return PartsContent(TextPart(text), ImagePart(imageURL))
}

// PartsContent builds multimodal content from arbitrary ordered parts.
func PartsContent(parts ...Part) Content {
	cp := make([]Part, len(parts))
	copy(cp, parts)
	return Content{kind: ContentMultimodal, parts: cp}
}

func (c Content) Kind() ContentKind {
	return c.kind
}

// Parts returns a copy of the parts of multimodal content, nil for text.
func (c Content) Parts() []Part {
	if c.kind != ContentMultimodal {
		return nil
	}
	cp := make([]Part, len(c.parts))
	copy(cp, c.parts)
	return cp
}

// Text returns the plain text, or the text parts joined by newlines for multimodal content.
func (c Content) Text() string {
	if c.kind == ContentText {
		return c.text
	}
	var texts []string
	for _, p := range c.parts {
		if p.Type == PartTypeText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImage reports whether any part references an image.
func (c Content) HasImage() bool {
	for _, p := range c.parts {
		if p.Type == PartTypeImageURL {
			return true
		}
	}
	return false
}

func (c Content) IsEmpty() bool {
	if c.kind == ContentText {
		return c.text == ""
	}
	return len(c.parts) == 0
}

// Append returns text content extended by chunk. Multimodal content is returned unchanged.
func (c Content) Append(chunk string) Content {
	if c.kind != ContentText {
		return c
	}
	return TextContent(c.text + chunk)
}

// Validate checks every part of multimodal content.
func (c Content) Validate() error {
	if c.kind != ContentMultimodal {
		return nil
	}
	if len(c.parts) == 0 {
		return errors.New("multimodal content requires at least one part")
	}
	for i, p := range c.parts {
		if err := p.validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Canonical returns the wire serialization used for token estimation:
// the text itself, or the JSON array of parts without HTML escaping.
func (c Content) Canonical() string {
	if c.kind == ContentText {
		return c.text
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.parts); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.kind == ContentMultimodal {
		return []byte(c.Canonical()), nil
	}
	return json.Marshal(c.text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = TextContent(text)
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		content := PartsContent(parts...)
		if err := content.Validate(); err != nil {
			return err
		}
		*c = content
		return nil
	default:
		return errors.New("content must be a string or an array of parts")
	}
}

// MarshalYAML stores content in the same shape as its JSON form.
func (c Content) MarshalYAML() (any, error) {
	if c.kind == ContentMultimodal {
		return c.parts, nil
	}
	return c.text, nil
}

// UnmarshalYAML accepts a scalar string or a sequence of parts.
func (c *Content) UnmarshalYAML(unmarshal func(any) error) error {
	var text string
	if err := unmarshal(&text); err == nil {
		*c = TextContent(text)
		return nil
	}
	var parts []Part
	if err := unmarshal(&parts); err != nil {
		return errors.New("content must be a string or a list of parts")
	}
	content := PartsContent(parts...)
	if err := content.Validate(); err != nil {
		return err
	}
	*c = content
	return nil
}
