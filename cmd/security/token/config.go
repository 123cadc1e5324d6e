package token

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Format selects the token encoding.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPASETO Format = "paseto"
)

// MinSecretBytes is the minimum accepted length of the shared secret.
const MinSecretBytes = 32

// Config defines the runtime configuration of a Manager.
type Config struct {
	Format Format

	// Secret is the shared symmetric secret. Never logged.
	Secret []byte

	// Issuer is set in the "iss" claim and required on verification.
	Issuer string

	// TTL is the lifetime of issued tokens.
	TTL time.Duration

	// Leeway tolerates clock differences on time-based claims.
	Leeway time.Duration
}

// DefaultConfig returns defaults without a secret.
func DefaultConfig() Config {
	return Config{
		Format: FormatJWT,
		Issuer: "tasker",
		TTL:    time.Hour,
	}
}

// LoadConfigFromEnv reads token configuration from the environment.
//
// Required:
//   - TASKER_JWT_SECRET (or JWT_SECRET)
//
// Optional:
//   - TASKER_TOKEN_FORMAT (jwt|paseto)
//   - TASKER_TOKEN_TTL (Go duration)
//   - TASKER_TOKEN_ISSUER
//   - TASKER_TOKEN_LEEWAY (Go duration)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("TASKER_TOKEN_FORMAT")); v != "" {
		switch Format(strings.ToLower(v)) {
		case FormatJWT:
			cfg.Format = FormatJWT
		case FormatPASETO:
			cfg.Format = FormatPASETO
		default:
			return Config{}, fmt.Errorf("TASKER_TOKEN_FORMAT: %w", ErrConfig)
		}
	}

	if v := strings.TrimSpace(os.Getenv("TASKER_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("TASKER_TOKEN_TTL: %w", ErrConfig)
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("TASKER_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("TASKER_TOKEN_LEEWAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, fmt.Errorf("TASKER_TOKEN_LEEWAY: %w", ErrConfig)
		}
		cfg.Leeway = d
	}

	secret := strings.TrimSpace(os.Getenv("TASKER_JWT_SECRET"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	cfg.Secret = []byte(secret)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Secret) == 0 {
		return ErrSecretMissing
	}
	if len(c.Secret) < MinSecretBytes {
		return ErrSecretTooShort
	}
	if c.TTL <= 0 || strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	return nil
}
