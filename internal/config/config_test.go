package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngpt-server/internal/utils/platformerrors"
)

func validConfig() *Config {
	return &Config{
		OpenAIAPIKey:            "sk-test",
		TextModel:               "o3-mini",
		TextModelMaxTokens:      100000,
		VisionModel:             "gpt-4o",
		VisionModelMaxTokens:    16000,
		TrimBoundary:            TrimBoundaryStrict,
		Tokenizer:               TokenizerBPE,
		AuthEnabled:             true,
		AuthServiceAccountEmail: "firebase-adminsdk-x1@ngpt-demo.iam.gserviceaccount.com",
		AuthJWKSRefreshInterval: time.Hour,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.OpenAIAPIKey = " " }, true},
		{"bad trim boundary", func(c *Config) { c.TrimBoundary = "loose" }, true},
		{"bad tokenizer", func(c *Config) { c.Tokenizer = "words" }, true},
		{"zero max tokens", func(c *Config) { c.VisionModelMaxTokens = 0 }, true},
		{"negative idle timeout", func(c *Config) { c.UpstreamIdleTimeout = -time.Second }, true},
		{"missing service account", func(c *Config) { c.AuthServiceAccountEmail = "" }, true},
		{"unparseable service account without project", func(c *Config) { c.AuthServiceAccountEmail = "someone@example.com" }, true},
		{"explicit project id", func(c *Config) {
			c.AuthServiceAccountEmail = "someone@example.com"
			c.AuthProjectID = "ngpt-demo"
		}, false},
		{"auth disabled skips auth checks", func(c *Config) {
			c.AuthEnabled = false
			c.AuthServiceAccountEmail = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeConfiguration))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateDerivesAuthDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.AllowedEmails = []string{" Alice@Example.com", "bob@example.com", "", "alice@example.com"}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ngpt-demo", cfg.AuthProjectID)
	assert.Equal(t, "https://securetoken.google.com/ngpt-demo", cfg.Issuer())
	assert.Equal(t, DefaultJWKSURL, cfg.AuthJWKSURL)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, cfg.AllowedEmails)
}

func TestLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AUTH_SERVICE_ACCOUNT_EMAIL", "svc@ngpt-demo.iam.gserviceaccount.com")
	t.Setenv("ALLOWED_EMAILS", "a@example.com,b@example.com")
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, "gpt-4o", cfg.VisionModel)
	assert.Equal(t, 16000, cfg.VisionModelMaxTokens)
	assert.Equal(t, "o3-mini", cfg.TextModel)
	assert.Equal(t, 100000, cfg.TextModelMaxTokens)
	assert.False(t, cfg.TextModelSupportsTemperature)
	assert.Equal(t, "guest", cfg.CallerLabel)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AllowedEmails)
	assert.Zero(t, cfg.UpstreamIdleTimeout)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AUTH_ENABLED", "false")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeConfiguration))
}
