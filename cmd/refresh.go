package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"deskauth/pkg/oauth"
	"deskauth/pkg/secret"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored access token",
	Long: `Refresh exchanges the stored refresh token for a new access token at
the configured token endpoint and stores the result. When the server
does not rotate the refresh token, the old one is carried forward.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	token, err := store.Get(cfg.TokenEndpoint)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("no token stored for %s, run 'deskauth login' first", cfg.TokenEndpoint)
	}
	if !token.IsRefreshable() {
		return fmt.Errorf("stored token has no refresh token, run 'deskauth login' again")
	}

	var creds *oauth.ClientCredentials
	if cfg.ClientSecret != "" {
		creds = &oauth.ClientCredentials{
			ID:     cfg.ClientID,
			Secret: secret.NewFromString(cfg.ClientSecret),
		}
	}

	client := oauth.NewEndpointClient()
	refreshed, err := client.Refresh(cmd.Context(), cfg.TokenEndpoint, token, creds)
	if err != nil {
		return err
	}

	if err := store.Put(cfg.TokenEndpoint, refreshed); err != nil {
		return err
	}

	fmt.Printf("Token refreshed for %s", cfg.TokenEndpoint)
	if !refreshed.ExpiresAt().IsZero() {
		fmt.Printf(" (expires %s)", refreshed.ExpiresAt().Local().Format(time.RFC1123))
	}
	fmt.Println()
	return nil
}
