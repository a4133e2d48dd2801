package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutAll bool

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored tokens",
	Long: `Logout removes the token stored for the configured token endpoint.
With --all, every stored token is removed.`,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove all stored tokens")
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if logoutAll {
		keys, err := store.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := store.Delete(key); err != nil {
				return err
			}
		}
		fmt.Printf("Removed %d stored token(s).\n", len(keys))
		return nil
	}

	if err := store.Delete(cfg.TokenEndpoint); err != nil {
		return err
	}
	fmt.Printf("Removed stored token for %s.\n", cfg.TokenEndpoint)
	return nil
}
