package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/infrastructure/metrics"
	"ngpt-server/internal/infrastructure/observability"
	"ngpt-server/internal/utils/platformerrors"
	"ngpt-server/internal/utils/redact"
)

// tokenValidator is satisfied by *TokenValidator.
type tokenValidator interface {
	Validate(ctx context.Context, rawToken string) (*TokenClaims, error)
	Ready() bool
}

// Gate decides whether an identity token may use the relay: the token must verify,
// its email must be verified, and the email must be on the allow-list.
type Gate struct {
	validator   tokenValidator
	allowList   map[string]struct{}
	serviceName string
	redactor    *redact.Redactor
	log         zerolog.Logger
}

var _ identity.Verifier = (*Gate)(nil)

func NewGate(validator tokenValidator, allowedEmails []string, serviceName string, redactor *redact.Redactor, log zerolog.Logger) *Gate {
	allowList := make(map[string]struct{}, len(allowedEmails))
	for _, email := range allowedEmails {
		email = normalizeEmail(email)
		if email != "" {
			allowList[email] = struct{}{}
		}
	}
	if len(allowList) == 0 {
		log.Warn().Msg("allow-list is empty, every verified token will be rejected")
	}
	return &Gate{
		validator:   validator,
		allowList:   allowList,
		serviceName: serviceName,
		redactor:    redactor,
		log:         log,
	}
}

// Verify never reports a bad token as an error; only a validator fault is returned as one.
func (g *Gate) Verify(ctx context.Context, rawToken string) (identity.Verdict, error) {
	ctx, span := observability.StartSpan(ctx, g.serviceName, "auth.verify")
	defer span.End()

	verdict, email, err := g.verify(ctx, strings.TrimSpace(rawToken))
	if err != nil {
		metrics.RecordAuth("error")
		observability.RecordError(ctx, err)
		return identity.Invalid("verifier unavailable"), err
	}

	metrics.RecordAuth(verdict.Outcome.String())
	observability.AddSpanAttributes(ctx, attribute.String("auth.outcome", verdict.Outcome.String()))
	if !verdict.IsAuthorized() {
		g.log.Warn().
			Str("outcome", verdict.Outcome.String()).
			Str("reason", g.redactor.Text(verdict.Reason)).
			Str("email", g.redactor.Email(email)).
			Str("request_id", platformerrors.RequestIDFromContext(ctx)).
			Msg("access denied")
	}
	return verdict, nil
}

// verify also returns the token's email, when it has one, for the rejection log.
func (g *Gate) verify(ctx context.Context, rawToken string) (identity.Verdict, string, error) {
	if rawToken == "" {
		return identity.Invalid("missing token"), "", nil
	}

	claims, err := g.validator.Validate(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return identity.Verdict{}, "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeInternal, "identity key set unavailable", err, "0e6f3a8d-52c4-4b1e-8f7a-d93c1b2e5a47")
		}
		return identity.Invalid(err.Error()), "", nil
	}

	if !claims.EmailVerified {
		return identity.Unauthorized("email not verified"), claims.Email, nil
	}
	if _, ok := g.allowList[normalizeEmail(claims.Email)]; !ok {
		return identity.Unauthorized("email not allow-listed"), claims.Email, nil
	}

	return identity.Authorized(identity.Claim{
		Name:          claims.Name,
		Email:         claims.Email,
		EmailVerified: true,
		SubjectID:     claims.Subject,
		IssuedAt:      claims.IssuedAt,
		ExpiresAt:     claims.ExpiresAt,
	}), claims.Email, nil
}

// Close stops background key refreshes. It is safe on a nil gate.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	if closer, ok := g.validator.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Ready reports whether the underlying key set is usable. A nil gate is always ready.
func (g *Gate) Ready() bool {
	if g == nil {
		return true
	}
	return g.validator.Ready()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
