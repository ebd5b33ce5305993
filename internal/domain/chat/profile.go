package chat

// ModelProfile describes how requests for one upstream model variant are shaped.
type ModelProfile struct {
	Name                string
	Model               string
	MaxOutputTokens     int
	ContextBudget       int
	Temperature         float32
	SupportsTemperature bool
	// UseMaxCompletionTokens sends the output allowance as max_completion_tokens instead of max_tokens.
	UseMaxCompletionTokens bool
}

// ModelProfiles holds the text-only and vision-capable variants.
type ModelProfiles struct {
	Text   ModelProfile
	Vision ModelProfile
}

// Select returns the vision profile when any message has an image part, the text profile otherwise.
func (p ModelProfiles) Select(messages []Message) ModelProfile {
	if HasImage(messages) {
		return p.Vision
	}
	return p.Text
}
