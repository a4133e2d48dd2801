package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored tokens",
	Long: `Status lists the tokens in the store with their expiry, scope and
refreshability. Token material itself is never printed.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No tokens stored. Run 'deskauth login' to sign in.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Endpoint", "Authorized", "Expires", "Refreshable", "Scopes"})

	for _, key := range keys {
		token, err := store.Get(key)
		if err != nil {
			return err
		}
		if token == nil {
			// Expired without refresh material and already dropped.
			continue
		}

		authorized := "unknown"
		if !token.AuthorizedAt().IsZero() {
			authorized = token.AuthorizedAt().Local().Format(time.RFC822)
		}
		expires := "never"
		if !token.ExpiresAt().IsZero() {
			expires = token.ExpiresAt().Local().Format(time.RFC822)
		}

		t.AppendRow(table.Row{key, authorized, expires, token.IsRefreshable(), token.Scope().String()})
	}

	t.Render()
	return nil
}
