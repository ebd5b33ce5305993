package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"ngpt-server/internal/utils/platformerrors"
)

const (
	// DefaultJWKSURL is the public key set Google publishes for Firebase ID tokens.
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	// IssuerPrefix is prepended to the project id to form the expected "iss" claim.
	IssuerPrefix = "https://securetoken.google.com/"

	serviceAccountSuffix = ".iam.gserviceaccount.com"
)

// Trim boundary policies.
const (
	TrimBoundaryStrict    = "strict"
	TrimBoundaryInclusive = "inclusive"
)

// Token estimator kinds.
const (
	TokenizerBPE       = "bpe"
	TokenizerHeuristic = "heuristic"
)

// Config holds all environment backed configuration for the relay server.
type Config struct {
	// HTTP Server
	HTTPPort           int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:8080"`

	// Upstream completion provider
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY,notEmpty"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	CallerLabel         string        `env:"RELAY_CALLER_LABEL" envDefault:"guest"`
	UpstreamIdleTimeout time.Duration `env:"UPSTREAM_IDLE_TIMEOUT" envDefault:"0s"`

	// Text-only model profile
	TextModel                    string  `env:"TEXT_MODEL" envDefault:"o3-mini"`
	TextModelMaxTokens           int     `env:"TEXT_MODEL_MAX_TOKENS" envDefault:"100000"`
	TextModelContextBudget       int     `env:"TEXT_MODEL_CONTEXT_BUDGET" envDefault:"128000"`
	TextModelTemperature         float32 `env:"TEXT_MODEL_TEMPERATURE" envDefault:"0.7"`
	TextModelSupportsTemperature bool    `env:"TEXT_MODEL_SUPPORTS_TEMPERATURE" envDefault:"false"`
	TextModelMaxCompletionTokens bool    `env:"TEXT_MODEL_MAX_COMPLETION_TOKENS" envDefault:"true"`

	// Vision model profile
	VisionModel                    string  `env:"VISION_MODEL" envDefault:"gpt-4o"`
	VisionModelMaxTokens           int     `env:"VISION_MODEL_MAX_TOKENS" envDefault:"16000"`
	VisionModelContextBudget       int     `env:"VISION_MODEL_CONTEXT_BUDGET" envDefault:"128000"`
	VisionModelTemperature         float32 `env:"VISION_MODEL_TEMPERATURE" envDefault:"0.7"`
	VisionModelSupportsTemperature bool    `env:"VISION_MODEL_SUPPORTS_TEMPERATURE" envDefault:"true"`
	VisionModelMaxCompletionTokens bool    `env:"VISION_MODEL_MAX_COMPLETION_TOKENS" envDefault:"false"`

	// Context window
	TrimBoundary      string `env:"TRIM_BOUNDARY" envDefault:"strict"`
	Tokenizer         string `env:"TOKENIZER" envDefault:"bpe"`
	TokenizerEncoding string `env:"TOKENIZER_ENCODING" envDefault:"cl100k_base"`

	// Access gate
	AuthEnabled             bool          `env:"AUTH_ENABLED" envDefault:"true"`
	AuthProjectID           string        `env:"AUTH_PROJECT_ID"`
	AuthServiceAccountEmail string        `env:"AUTH_SERVICE_ACCOUNT_EMAIL"`
	AuthJWKSURL             string        `env:"AUTH_JWKS_URL"`
	AuthJWKSJSON            string        `env:"AUTH_JWKS_JSON"`
	AuthJWKSRefreshInterval time.Duration `env:"AUTH_JWKS_REFRESH_INTERVAL" envDefault:"1h"`
	AuthClockSkew           time.Duration `env:"AUTH_CLOCK_SKEW" envDefault:"1m"`
	AllowedEmails           []string      `env:"ALLOWED_EMAILS" envSeparator:","`

	// Observability / Logging
	OTLPEndpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders      string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName      string `env:"SERVICE_NAME" envDefault:"ngpt-relay"`
	ServiceNamespace string `env:"SERVICE_NAMESPACE" envDefault:"ngpt"`
	Environment      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"console"`
	// LogPIILevel is none, hashed or full; it applies to caller emails in access logs.
	LogPIILevel string `env:"LOG_PII_LEVEL" envDefault:"hashed"`
}

// Load parses environment variables into Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, platformerrors.NewError(context.Background(), platformerrors.LayerCommon, platformerrors.ErrorTypeConfiguration, "parse env config", err, "5a0d7c61-3f0e-4b8e-9d52-1b7a3e6c2f90")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills derived values.
func (c *Config) Validate() error {
	ctx := context.Background()
	fail := func(message string) error {
		return platformerrors.NewError(ctx, platformerrors.LayerCommon, platformerrors.ErrorTypeConfiguration, message, nil, "c8e4f2b9-6d1a-4f3c-a7e5-0b9d8c2e4f16")
	}

	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fail("OPENAI_API_KEY is required")
	}

	switch c.TrimBoundary {
	case TrimBoundaryStrict, TrimBoundaryInclusive:
	default:
		return fail(fmt.Sprintf("TRIM_BOUNDARY must be %q or %q", TrimBoundaryStrict, TrimBoundaryInclusive))
	}

	switch c.Tokenizer {
	case TokenizerBPE, TokenizerHeuristic:
	default:
		return fail(fmt.Sprintf("TOKENIZER must be %q or %q", TokenizerBPE, TokenizerHeuristic))
	}

	if c.TextModel == "" || c.VisionModel == "" {
		return fail("TEXT_MODEL and VISION_MODEL are required")
	}
	if c.TextModelMaxTokens <= 0 || c.VisionModelMaxTokens <= 0 {
		return fail("model max tokens must be positive")
	}
	if c.UpstreamIdleTimeout < 0 {
		return fail("UPSTREAM_IDLE_TIMEOUT must not be negative")
	}

	c.AllowedEmails = normalizeEmails(c.AllowedEmails)

	if !c.AuthEnabled {
		return nil
	}

	if strings.TrimSpace(c.AuthServiceAccountEmail) == "" {
		return fail("AUTH_SERVICE_ACCOUNT_EMAIL is required when AUTH_ENABLED is true")
	}
	if c.AuthProjectID == "" {
		c.AuthProjectID = projectFromServiceAccount(c.AuthServiceAccountEmail)
	}
	if c.AuthProjectID == "" {
		return fail("AUTH_PROJECT_ID is required when AUTH_ENABLED is true")
	}
	if strings.TrimSpace(c.AuthJWKSURL) == "" && strings.TrimSpace(c.AuthJWKSJSON) == "" {
		c.AuthJWKSURL = DefaultJWKSURL
	}
	if c.AuthJWKSRefreshInterval <= 0 {
		return fail("AUTH_JWKS_REFRESH_INTERVAL must be positive")
	}

	return nil
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Issuer returns the expected token issuer for the configured project.
func (c *Config) Issuer() string {
	return IssuerPrefix + c.AuthProjectID
}

func projectFromServiceAccount(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := email[at+1:]
	if !strings.HasSuffix(domain, serviceAccountSuffix) {
		return ""
	}
	return strings.TrimSuffix(domain, serviceAccountSuffix)
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
