package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"deskauth/internal/config"
	"deskauth/pkg/browser"
	"deskauth/pkg/callback"
	"deskauth/pkg/logging"
	"deskauth/pkg/oauth"
)

// loginTimeout is how long to wait for the user to finish in the browser.
const loginTimeout = 10 * time.Minute

var loginNoBrowser bool

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the browser-based authorization flow",
	Long: `Login starts a loopback callback listener, opens the authorization
URL in your default browser and waits for the redirect. The
authorization code is exchanged for a bearer token, which is stored
encrypted at rest for later use.

Examples:
  deskauth login                # use the configured endpoints
  deskauth login --no-browser   # print the URL instead of opening it`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	listener, err := callback.NewListener(callback.Config{
		Address: cfg.CallbackAddress,
		Port:    cfg.CallbackPort,
	})
	if err != nil {
		return err
	}
	if err := listener.Start(); err != nil {
		return err
	}
	defer func() {
		if err := listener.Stop(); err != nil {
			logging.Warn("CLI", "failed to stop callback listener: %v", err)
		}
	}()

	grant, err := oauth.NewGrant(grantConfig(cfg, listener.CallbackURL()))
	if err != nil {
		return err
	}

	authURL, err := grant.AuthorizationURL()
	if err != nil {
		return err
	}

	if loginNoBrowser {
		fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", authURL)
	} else if err := browser.Open(authURL); err != nil {
		logging.Warn("CLI", "could not open browser: %v", err)
		fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", authURL)
	}

	token, err := waitForAuthorization(ctx, listener, grant)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Put(cfg.TokenEndpoint, token); err != nil {
		return err
	}

	fmt.Printf("Signed in. Token stored for %s", cfg.TokenEndpoint)
	if !token.ExpiresAt().IsZero() {
		fmt.Printf(" (expires %s)", token.ExpiresAt().Local().Format(time.RFC1123))
	}
	fmt.Println()
	return nil
}

// waitForAuthorization waits for the browser redirect and exchanges the
// code. The grant's state and verifier are single-use, so the first
// redirect decides the outcome; a mismatched state surfaces as
// oauth.ErrInvalidState and the user must log in again.
func waitForAuthorization(ctx context.Context, listener *callback.Listener, grant *oauth.Grant) (*oauth.AccessToken, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for browser authorization..."
	s.Start()
	defer s.Stop()

	var redirect *url.URL
	select {
	case redirect = <-listener.Events():
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization not completed: %w", ctx.Err())
	}

	client := oauth.NewEndpointClient()
	token, err := grant.Exchange(ctx, client, redirect.Query())
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidState) {
			return nil, fmt.Errorf("redirect failed the state check, run login again: %w", err)
		}
		return nil, err
	}
	return token, nil
}

func grantConfig(cfg *config.Config, redirectEndpoint string) oauth.GrantConfig {
	var scope []string
	if len(cfg.Scopes) > 0 {
		scope = cfg.Scopes
	}
	return oauth.GrantConfig{
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		RedirectEndpoint:      redirectEndpoint,
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		Scope:                 scope,
		Method:                oauth.CodeChallengeMethod(cfg.PKCEMethod),
	}
}
