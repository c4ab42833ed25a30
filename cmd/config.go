package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kyc-backup/internal/config"
)

// createConfigCommand creates the config subcommand for generating and checking configuration
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

The output is a complete configuration with every default filled in. Redirect
it to a file and customize it for your environment. Secrets are better passed
through KYC_BACKUP_DATABASE_PASSWORD and friends than written to disk.

Examples:
  # Generate a config file
  kyc-backup config > kyc-backup.yaml

  # Check the effective configuration without touching any store
  kyc-backup config validate --config kyc-backup.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := config.Sample()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sample)
			return nil
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printer, err := newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				printer.Error("Configuration is invalid")
				return configError(err)
			}
			printer.Success("Configuration is valid (%s engine, %s object store, %d bucket(s))",
				cfg.Database.Engine, cfg.ObjectStore.Provider, len(cfg.ObjectStore.Buckets))
			return nil
		},
	})

	return configCmd
}
