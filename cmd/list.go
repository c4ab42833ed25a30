package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"kyc-backup/internal/backup"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the backup runs in the backup root",
	Long: `List the backup runs found in the backup root, newest first, with the size
of each artifact and the run status recorded in its manifest.

Examples:
  kyc-backup list
  kyc-backup list --all -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Backup.Validate(); err != nil {
			return configError(err)
		}

		printer, err := newPrinter(cmd.OutOrStdout())
		if err != nil {
			return err
		}

		prefix := cfg.Backup.Prefix
		if listAll {
			prefix = ""
		}
		runs, err := backup.List(cfg.Backup.Root, prefix)
		if err != nil {
			return err
		}
		return printer.Runs(runs, time.Now())
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "include runs of every prefix")
	rootCmd.AddCommand(listCmd)
}
