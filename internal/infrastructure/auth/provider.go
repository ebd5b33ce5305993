package auth

import (
	"context"

	"github.com/rs/zerolog"

	"ngpt-server/internal/config"
	"ngpt-server/internal/utils/platformerrors"
	"ngpt-server/internal/utils/redact"
)

// ProvideGate builds the access gate, or returns nil when AUTH_ENABLED is false.
// Missing or unloadable key material is a configuration error.
func ProvideGate(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Gate, error) {
	if !cfg.AuthEnabled {
		log.Warn().Msg("access gate disabled, relay accepts anonymous requests")
		return nil, nil
	}

	validator, err := NewTokenValidator(ctx, ValidatorOptions{
		JWKSURL:      cfg.AuthJWKSURL,
		JWKSJSON:     cfg.AuthJWKSJSON,
		Issuer:       cfg.Issuer(),
		Audience:     cfg.AuthProjectID,
		RefreshEvery: cfg.AuthJWKSRefreshInterval,
		ClockSkew:    cfg.AuthClockSkew,
	}, log)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeConfiguration, "initialise token validator", err, "7d2b9e14-a8c3-4f05-b6e1-3c9a0f7d2e58")
	}

	redactor := redact.New(redact.ParseLevel(cfg.LogPIILevel), cfg.ServiceName)
	return NewGate(validator, cfg.AllowedEmails, cfg.ServiceName, redactor, log), nil
}
