package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scanhub/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a scanhub configuration file without starting the server.

Exits non-zero when the file cannot be parsed or fails validation.

Example:
  scanhub validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cmd.Printf("configuration OK: listening on %s, storage in %s\n", cfg.Addr(), cfg.StorageDir)
	return nil
}
