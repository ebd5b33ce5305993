package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/utils/platformerrors"
	"ngpt-server/internal/utils/redact"
)

const (
	testKID      = "test-key"
	testProject  = "ngpt-test"
	testIssuer   = "https://securetoken.google.com/" + testProject
	allowedEmail = "ada@example.com"
)

type signer struct {
	key  *rsa.PrivateKey
	jwks string
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": testKID,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	return signer{key: key, jwks: string(raw)}
}

func (s signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	raw, err := token.SignedString(s.key)
	require.NoError(t, err)
	return raw
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":            "uid-1",
		"iss":            testIssuer,
		"aud":            testProject,
		"name":           "Ada",
		"email":          allowedEmail,
		"email_verified": true,
		"iat":            now.Add(-time.Minute).Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func newTestGate(t *testing.T, s signer) *Gate {
	t.Helper()
	validator, err := NewTokenValidator(context.Background(), ValidatorOptions{
		JWKSJSON:  s.jwks,
		Issuer:    testIssuer,
		Audience:  testProject,
		ClockSkew: time.Minute,
	}, zerolog.Nop())
	require.NoError(t, err)
	return NewGate(validator, []string{" ADA@example.com "}, "test", redact.New(redact.LevelHashed, "test"), zerolog.Nop())
}

func TestGateVerify(t *testing.T) {
	s := newSigner(t)
	gate := newTestGate(t, s)
	now := time.Now()

	with := func(mutate func(jwt.MapClaims)) string {
		claims := validClaims(now)
		mutate(claims)
		return s.sign(t, claims)
	}

	other := newSigner(t)

	tests := []struct {
		name    string
		token   string
		outcome identity.Outcome
	}{
		{"allow-listed", s.sign(t, validClaims(now)), identity.OutcomeAuthorized},
		{"not allow-listed", with(func(c jwt.MapClaims) { c["email"] = "eve@example.com" }), identity.OutcomeUnauthorized},
		{"email not verified", with(func(c jwt.MapClaims) { c["email_verified"] = false }), identity.OutcomeUnauthorized},
		{"expired", with(func(c jwt.MapClaims) { c["exp"] = now.Add(-2 * time.Hour).Unix() }), identity.OutcomeInvalid},
		{"wrong audience", with(func(c jwt.MapClaims) { c["aud"] = "someone-else" }), identity.OutcomeInvalid},
		{"wrong issuer", with(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }), identity.OutcomeInvalid},
		{"missing subject", with(func(c jwt.MapClaims) { delete(c, "sub") }), identity.OutcomeInvalid},
		{"foreign key", other.sign(t, validClaims(now)), identity.OutcomeInvalid},
		{"garbage", "not-a-jwt", identity.OutcomeInvalid},
		{"missing", "", identity.OutcomeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := gate.Verify(context.Background(), tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, verdict.Outcome, verdict.Reason)
			if tt.outcome != identity.OutcomeAuthorized {
				assert.Equal(t, identity.Rejected(), verdict.Claim)
			}
		})
	}
}

func TestGateAuthorizedClaim(t *testing.T) {
	s := newSigner(t)
	gate := newTestGate(t, s)
	now := time.Now()

	verdict, err := gate.Verify(context.Background(), s.sign(t, validClaims(now)))
	require.NoError(t, err)
	require.True(t, verdict.IsAuthorized())

	claim := verdict.Claim
	assert.Equal(t, "Ada", claim.Name)
	assert.Equal(t, allowedEmail, claim.Email)
	assert.Equal(t, "uid-1", claim.SubjectID)
	assert.True(t, claim.EmailVerified)
	assert.Equal(t, now.Add(time.Hour).Unix(), claim.ExpiresAt.Unix())
	assert.True(t, gate.Ready())
}

type unloadedValidator struct{}

func (unloadedValidator) Validate(context.Context, string) (*TokenClaims, error) {
	return nil, ErrKeySetUnavailable
}

func (unloadedValidator) Ready() bool { return false }

func TestGateKeySetUnavailable(t *testing.T) {
	gate := NewGate(unloadedValidator{}, []string{allowedEmail}, "test", nil, zerolog.Nop())

	verdict, err := gate.Verify(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInternal))
	assert.False(t, verdict.IsAuthorized())
	assert.False(t, gate.Ready())
}

func TestNilGate(t *testing.T) {
	var gate *Gate
	assert.True(t, gate.Ready())
	assert.NotPanics(t, gate.Close)
}

func TestNewTokenValidatorRequiresKeys(t *testing.T) {
	_, err := NewTokenValidator(context.Background(), ValidatorOptions{Issuer: testIssuer, Audience: testProject}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewTokenValidator(context.Background(), ValidatorOptions{JWKSJSON: `{"keys":[]}`}, zerolog.Nop())
	assert.Error(t, err)
}
