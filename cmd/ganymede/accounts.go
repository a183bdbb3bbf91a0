package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage enrolled accounts",
	Long:  `Accounts lists and edits the enrolled account pool in accounts.json.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _, err := openPool()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tENABLED\tINVALID\tTIER\tLAST USED")
		for _, a := range pool.List() {
			lastUsed := "-"
			if t := a.LastUsedAt(); !t.IsZero() {
				lastUsed = t.Format(time.RFC3339)
			}
			invalid := ""
			if a.IsInvalid() {
				invalid = "yes"
			}
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\n", a.Key, a.IsEnabled(), invalid, a.Tier(), lastUsed)
		}
		return w.Flush()
	},
}

var (
	addRefreshToken string
	addAPIKey       string
)

var accountsAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add or update an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addRefreshToken == "" && addAPIKey == "" {
			return fmt.Errorf("one of --refresh-token or --api-key is required")
		}
		pool, _, err := openPool()
		if err != nil {
			return err
		}
		pool.Add(&account.Account{
			Key:          args[0],
			RefreshToken: addRefreshToken,
			APIKey:       addAPIKey,
		})
		if err := pool.Save(); err != nil {
			return err
		}
		fmt.Printf("account %s saved\n", args[0])
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _, err := openPool()
		if err != nil {
			return err
		}
		if !pool.Remove(args[0]) {
			return fmt.Errorf("account %q not found", args[0])
		}
		if err := pool.Save(); err != nil {
			return err
		}
		fmt.Printf("account %s removed\n", args[0])
		return nil
	},
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
}

func setEnabled(key string, enabled bool) error {
	pool, _, err := openPool()
	if err != nil {
		return err
	}
	if !pool.Enable(key, enabled) {
		return fmt.Errorf("account %q not found", key)
	}
	if err := pool.Save(); err != nil {
		return err
	}
	fmt.Printf("account %s enabled=%v\n", key, enabled)
	return nil
}

// openPool loads the configured account store without starting the server.
func openPool() (*account.Pool, *config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	pool := account.NewPool(account.PoolConfig{
		MaxConcurrent:    cfg.Accounts.MaxConcurrentRequests,
		MinQuotaFraction: cfg.Accounts.MinQuotaFraction,
		DefaultCooldown:  time.Duration(cfg.Dispatch.DefaultCooldownMs) * time.Millisecond,
		MaxCooldown:      time.Duration(cfg.Dispatch.MaxCooldownMs) * time.Millisecond,
	}, account.NewStore(cfg.Storage.AccountsFile))
	if err := pool.Load(); err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

func init() {
	accountsAddCmd.Flags().StringVar(&addRefreshToken, "refresh-token", "", "long-lived OAuth refresh token")
	accountsAddCmd.Flags().StringVar(&addAPIKey, "api-key", "", "static API key")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsEnableCmd)
	accountsCmd.AddCommand(accountsDisableCmd)
	rootCmd.AddCommand(accountsCmd)
}
