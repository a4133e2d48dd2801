package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deskauth/internal/config"
	"deskauth/pkg/logging"
	"deskauth/pkg/oauth"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deskauth",
	Short: "Authenticate desktop applications with OAuth 2.0 + PKCE",
	Long: `deskauth runs the OAuth 2.0 Authorization Code flow with PKCE for
native desktop applications: it starts a loopback callback listener,
opens the authorization URL in your browser, exchanges the returned
code for a bearer token and keeps the token encrypted at rest.

Configuration lives in ~/.config/deskauth/config.yaml and can be
overridden with DESKAUTH_* environment variables.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by the version command and the
// token request User-Agent. Called from main with the build-time value.
func SetVersion(version string) {
	oauth.Version = version
	rootCmd.Version = version
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/deskauth/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// loadConfig loads and validates the configuration, then initializes
// logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.ParseLevel(level), os.Stderr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the token store configured in cfg.
func openStore(cfg *config.Config) (*oauth.Store, error) {
	store, err := oauth.OpenStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}
	return store, nil
}
