package domain

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"ngpt-server/internal/config"
	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/domain/relay"
	"ngpt-server/internal/domain/tokenizer"
	"ngpt-server/internal/domain/trimmer"
)

// ServiceProvider wires the domain services.
var ServiceProvider = wire.NewSet(
	ProvideModelProfiles,
	tokenizer.NewEstimator,
	ProvideTrimmer,
	ProvideRelayService,
)

// ProvideModelProfiles builds the text and vision profiles from configuration.
func ProvideModelProfiles(cfg *config.Config) chat.ModelProfiles {
	return chat.ModelProfiles{
		Text: chat.ModelProfile{
			Name:                   "text",
			Model:                  cfg.TextModel,
			MaxOutputTokens:        cfg.TextModelMaxTokens,
			ContextBudget:          cfg.TextModelContextBudget,
			Temperature:            cfg.TextModelTemperature,
			SupportsTemperature:    cfg.TextModelSupportsTemperature,
			UseMaxCompletionTokens: cfg.TextModelMaxCompletionTokens,
		},
		Vision: chat.ModelProfile{
			Name:                   "vision",
			Model:                  cfg.VisionModel,
			MaxOutputTokens:        cfg.VisionModelMaxTokens,
			ContextBudget:          cfg.VisionModelContextBudget,
			Temperature:            cfg.VisionModelTemperature,
			SupportsTemperature:    cfg.VisionModelSupportsTemperature,
			UseMaxCompletionTokens: cfg.VisionModelMaxCompletionTokens,
		},
	}
}

func ProvideTrimmer(cfg *config.Config, estimator tokenizer.Estimator, log zerolog.Logger) *trimmer.Trimmer {
	return trimmer.New(estimator, trimmer.ParseBoundary(cfg.TrimBoundary), log)
}

func ProvideRelayService(cfg *config.Config, verifier identity.Verifier, upstream relay.Upstream, trim *trimmer.Trimmer, profiles chat.ModelProfiles, log zerolog.Logger) *relay.Service {
	return relay.NewService(verifier, upstream, trim, relay.Options{
		Profiles:    profiles,
		CallerLabel: cfg.CallerLabel,
		ServiceName: cfg.ServiceName,
	}, log)
}
