package relay

import (
	openai "github.com/sashabaranov/go-openai"

	"ngpt-server/internal/domain/chat"
)

// BuildUpstreamRequest shapes the completion request for profile. Messages are passed verbatim.
// Penalties are zero, which is also the provider default, so omitting them on the wire is equivalent.
func BuildUpstreamRequest(profile chat.ModelProfile, messages []chat.Message, callerLabel string) openai.ChatCompletionRequest {
	request := openai.ChatCompletionRequest{
		Model:            profile.Model,
		Messages:         chat.ToOpenAIMessages(messages),
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		Stream:           true,
		N:                1,
		User:             callerLabel,
	}

	// Reasoning models reject temperature outright.
	if profile.SupportsTemperature {
		request.Temperature = profile.Temperature
	}

	if profile.UseMaxCompletionTokens {
		request.MaxCompletionTokens = profile.MaxOutputTokens
	} else {
		request.MaxTokens = profile.MaxOutputTokens
	}

	return request
}
