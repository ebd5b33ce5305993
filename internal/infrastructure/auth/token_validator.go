package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrKeySetUnavailable is returned when no signing keys have been loaded.
var ErrKeySetUnavailable = errors.New("jwks not initialised")

// TokenClaims represent the subset of identity token claims the gate uses.
type TokenClaims struct {
	Subject       string
	Issuer        string
	Audience      []string
	Name          string
	Email         string
	EmailVerified bool
	ExpiresAt     time.Time
	IssuedAt      time.Time
}

// ValidatorOptions configures where keys come from and what a valid token looks like.
type ValidatorOptions struct {
	// JWKSURL is fetched and refreshed in the background. Ignored when JWKSJSON is set.
	JWKSURL string
	// JWKSJSON is a static key set, used for pinned keys and tests.
	JWKSJSON     string
	Issuer       string
	Audience     string
	RefreshEvery time.Duration
	ClockSkew    time.Duration
}

// TokenValidator verifies RS256 identity tokens against the issuer's public key set.
type TokenValidator struct {
	opts    ValidatorOptions
	logger  zerolog.Logger
	jwks    atomic.Pointer[keyfunc.JWKS]
	lastErr atomic.Value // stores lastErrWrap
}

// lastErrWrap keeps atomic.Value from ever holding a bare nil.
type lastErrWrap struct{ Err error }

const (
	jwksInitialRetryInterval   = time.Second
	jwksInitialRetryMaxBackoff = 10 * time.Second
	jwksInitialRetryTimeout    = 2 * time.Minute
)

// NewTokenValidator loads the key set and returns a validator. It fails when no key
// material is configured or the initial fetch does not succeed before the retry deadline.
func NewTokenValidator(ctx context.Context, opts ValidatorOptions, logger zerolog.Logger) (*TokenValidator, error) {
	if strings.TrimSpace(opts.JWKSJSON) == "" && strings.TrimSpace(opts.JWKSURL) == "" {
		return nil, errors.New("jwks url or jwks json is required")
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}

	validator := &TokenValidator{
		opts:   opts,
		logger: logger,
	}
	validator.lastErr.Store(lastErrWrap{Err: nil})

	if strings.TrimSpace(opts.JWKSJSON) != "" {
		jwks, err := keyfunc.NewJSON(json.RawMessage(opts.JWKSJSON))
		if err != nil {
			return nil, fmt.Errorf("parse jwks json: %w", err)
		}
		validator.jwks.Store(jwks)
		return validator, nil
	}

	if err := validator.initJWKS(ctx); err != nil {
		return nil, err
	}
	return validator, nil
}

func (v *TokenValidator) initJWKS(ctx context.Context) error {
	options := keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			v.lastErr.Store(lastErrWrap{Err: err})
			if err != nil {
				v.logger.Error().Err(err).Msg("jwks refresh failed")
			}
		},
		RefreshInterval:   v.opts.RefreshEvery,
		RefreshUnknownKID: true,
	}

	backoff := jwksInitialRetryInterval
	deadline := time.Now().Add(jwksInitialRetryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	for attempt := 1; ; attempt++ {
		jwks, err := keyfunc.Get(v.opts.JWKSURL, options)
		if err == nil {
			v.lastErr.Store(lastErrWrap{Err: nil})
			v.jwks.Store(jwks)
			v.logger.Info().Str("jwks_url", v.opts.JWKSURL).Int("attempt", attempt).Msg("jwks loaded")
			return nil
		}

		v.logger.Warn().
			Err(err).
			Str("jwks_url", v.opts.JWKSURL).
			Int("attempt", attempt).
			Msg("initial jwks fetch failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("fetch jwks: %w", ctx.Err())
		case <-time.After(backoff):
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("fetch jwks: %w", err)
		}

		if next := backoff * 2; next <= jwksInitialRetryMaxBackoff {
			backoff = next
		} else {
			backoff = jwksInitialRetryMaxBackoff
		}
	}
}

// Validate parses and verifies the token. ErrKeySetUnavailable signals a validator fault;
// every other error means the token itself is unacceptable.
func (v *TokenValidator) Validate(_ context.Context, rawToken string) (*TokenClaims, error) {
	jwks := v.jwks.Load()
	if jwks == nil {
		return nil, ErrKeySetUnavailable
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.opts.Issuer),
		jwt.WithAudience(v.opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.opts.ClockSkew),
	)
	token, err := parser.ParseWithClaims(rawToken, jwt.MapClaims{}, jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	sub := claimString(mapClaims["sub"])
	if sub == "" {
		return nil, errors.New("sub claim missing")
	}

	var audiences []string
	switch val := mapClaims["aud"].(type) {
	case string:
		audiences = append(audiences, val)
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				audiences = append(audiences, s)
			}
		}
	}

	return &TokenClaims{
		Subject:       sub,
		Issuer:        claimString(mapClaims["iss"]),
		Audience:      audiences,
		Name:          claimString(mapClaims["name"]),
		Email:         claimString(mapClaims["email"]),
		EmailVerified: claimBool(mapClaims["email_verified"]),
		ExpiresAt:     jwtNumericTime(mapClaims["exp"]),
		IssuedAt:      jwtNumericTime(mapClaims["iat"]),
	}, nil
}

// Ready indicates whether the key set is loaded and its last refresh succeeded.
func (v *TokenValidator) Ready() bool {
	if v.jwks.Load() == nil {
		return false
	}
	if val := v.lastErr.Load(); val != nil {
		if wrap, ok := val.(lastErrWrap); ok && wrap.Err != nil {
			return false
		}
	}
	return true
}

// Close stops background refreshes.
func (v *TokenValidator) Close() {
	if jwks := v.jwks.Load(); jwks != nil {
		jwks.EndBackground()
	}
}

func jwtNumericTime(value any) time.Time {
	switch timeValue := value.(type) {
	case float64:
		return time.Unix(int64(timeValue), 0).UTC()
	case int64:
		return time.Unix(timeValue, 0).UTC()
	case json.Number:
		if unixTime, err := timeValue.Int64(); err == nil {
			return time.Unix(unixTime, 0).UTC()
		}
	}
	return time.Time{}
}

func claimString(value any) string {
	if str, ok := value.(string); ok {
		return str
	}
	return ""
}

func claimBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}
