package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid (strategy=%s, listen=%s)\n",
			cfgFile, cfg.Accounts.Selection.Strategy, cfg.Server.ListenAddress)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
