// Package config loads the CLI configuration from a YAML file with
// environment variable overrides. A .env file in the working directory is
// honored for development setups.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is the directory under the user's home that holds the
// configuration file and the token store.
const DefaultConfigDir = ".config/deskauth"

// Config holds everything the CLI needs to run an authorization flow.
// YAML keys feed from the config file; env tags override per field.
type Config struct {
	// AuthorizationEndpoint is the absolute URL of the authorization
	// endpoint.
	AuthorizationEndpoint string `yaml:"authorization_endpoint" env:"DESKAUTH_AUTHORIZATION_ENDPOINT"`

	// TokenEndpoint is the absolute URL of the token endpoint.
	TokenEndpoint string `yaml:"token_endpoint" env:"DESKAUTH_TOKEN_ENDPOINT"`

	// ClientID is the OAuth client identifier.
	ClientID string `yaml:"client_id" env:"DESKAUTH_CLIENT_ID"`

	// ClientSecret is optional; set only for confidential clients.
	ClientSecret string `yaml:"client_secret" env:"DESKAUTH_CLIENT_SECRET"`

	// Scopes requested during authorization.
	Scopes []string `yaml:"scopes" env:"DESKAUTH_SCOPES" envSeparator:" "`

	// PKCEMethod is one of "S256", "plain" or "none". Empty means S256.
	PKCEMethod string `yaml:"pkce_method" env:"DESKAUTH_PKCE_METHOD"`

	// CallbackAddress is the loopback IP the listener binds.
	CallbackAddress string `yaml:"callback_address" env:"DESKAUTH_CALLBACK_ADDRESS"`

	// CallbackPort is the listener port; 0 lets the OS pick one.
	CallbackPort int `yaml:"callback_port" env:"DESKAUTH_CALLBACK_PORT"`

	// StorePath is the token store database path. Empty uses
	// ~/.config/deskauth/tokens.db.
	StorePath string `yaml:"store_path" env:"DESKAUTH_STORE_PATH"`

	// LogLevel is one of "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level" env:"DESKAUTH_LOG_LEVEL"`
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, "config.yaml"), nil
}

// Load reads the configuration from path (or the default location when
// path is empty) and applies environment overrides. A missing file is
// not an error; the environment alone may carry the configuration.
func Load(path string) (*Config, error) {
	// Development convenience; missing .env files are fine.
	_ = godotenv.Load()

	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fall through to environment-only configuration.
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.CallbackAddress == "" {
		cfg.CallbackAddress = "127.0.0.1"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.StorePath = filepath.Join(home, DefaultConfigDir, "tokens.db")
	}

	return cfg, nil
}

// Validate checks the fields an authorization flow cannot run without.
func (c *Config) Validate() error {
	if c.AuthorizationEndpoint == "" {
		return errors.New("authorization_endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return errors.New("token_endpoint is required")
	}
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	switch c.PKCEMethod {
	case "", "S256", "plain", "none":
	default:
		return fmt.Errorf("unknown pkce_method %q", c.PKCEMethod)
	}
	return nil
}
