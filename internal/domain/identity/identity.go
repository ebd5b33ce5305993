package identity

import (
	"context"
	"encoding/json"
	"time"
)

// Claim is the verified identity behind a request. It is built per request and never stored.
type Claim struct {
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	SubjectID     string    `json:"user_id,omitempty"`
	IssuedAt      time.Time `json:"-"`
	ExpiresAt     time.Time `json:"-"`
}

// Rejected is the sentinel claim returned for anyone who is not authorized.
func Rejected() Claim {
	return Claim{EmailVerified: false}
}

// MarshalJSON renders iat/exp as unix seconds and omits them on the rejection sentinel.
func (c Claim) MarshalJSON() ([]byte, error) {
	type alias Claim
	out := struct {
		alias
		IssuedAt  int64 `json:"iat,omitempty"`
		ExpiresAt int64 `json:"exp,omitempty"`
	}{alias: alias(c)}
	if !c.IssuedAt.IsZero() {
		out.IssuedAt = c.IssuedAt.Unix()
	}
	if !c.ExpiresAt.IsZero() {
		out.ExpiresAt = c.ExpiresAt.Unix()
	}
	return json.Marshal(out)
}

// Outcome classifies a verification.
type Outcome int

const (
	// OutcomeInvalid means the token failed signature, expiry, issuer or audience checks.
	OutcomeInvalid Outcome = iota
	// OutcomeUnauthorized means the token is genuine but the email is unverified or not allow-listed.
	OutcomeUnauthorized
	// OutcomeAuthorized means the caller may use the relay.
	OutcomeAuthorized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeUnauthorized:
		return "unauthorized"
	default:
		return "invalid"
	}
}

// Verdict is the result of checking a token against the access gate.
type Verdict struct {
	Outcome Outcome
	Claim   Claim
	// Reason explains an invalid or unauthorized verdict for logs. It is never sent to clients.
	Reason string
}

func Authorized(claim Claim) Verdict {
	return Verdict{Outcome: OutcomeAuthorized, Claim: claim}
}

func Unauthorized(reason string) Verdict {
	return Verdict{Outcome: OutcomeUnauthorized, Claim: Rejected(), Reason: reason}
}

func Invalid(reason string) Verdict {
	return Verdict{Outcome: OutcomeInvalid, Claim: Rejected(), Reason: reason}
}

func (v Verdict) IsAuthorized() bool {
	return v.Outcome == OutcomeAuthorized
}

// Verifier checks raw identity tokens. The error return is reserved for failures of the
// verifier itself, such as an unloaded key set; bad tokens are reported through the Verdict.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Verdict, error)
}
