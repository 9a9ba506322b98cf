package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOCHAT"

type Config struct {
	ServerAddr     string   `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	DatabaseDSN    string   `envconfig:"DATABASE_DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningSecret  string   `envconfig:"SIGNING_KEY" default:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	MigrateOnStart bool     `envconfig:"MIGRATE" default:"true"`

	TokenExpiration time.Duration `envconfig:"TOKEN_EXPIRATION" default:"24h"`
	TypingTimeout   time.Duration `envconfig:"TYPING_TIMEOUT" default:"3s"`
	SendTimeout     time.Duration `envconfig:"SEND_TIMEOUT" default:"1s"`
	SendBufferSize  int           `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	SignalRate      float64       `envconfig:"SIGNAL_RATE" default:"20"`
	SignalBurst     int           `envconfig:"SIGNAL_BURST" default:"40"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// SigningKey is the decoded SigningSecret.
	SigningKey []byte `ignored:"true"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Load reads GOCHAT_* variables from the environment, after loading the
// given dotenv files (".env" when none are given, ignored if absent).
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration and decodes the signing secret.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("typing timeout must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("send buffer size must be positive")
	}
	if c.SignalRate <= 0 || c.SignalBurst <= 0 {
		return fmt.Errorf("signal rate and burst must be positive")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	return nil
}
