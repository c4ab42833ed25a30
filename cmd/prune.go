package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"kyc-backup/internal/backup"
	"kyc-backup/internal/logging"
)

var (
	pruneMaxAge int
	pruneDryRun bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups older than the retention window",
	Long: `Apply the retention policy to the backup root without taking a backup.

An artifact is deleted when its age in whole days is greater than the
configured max_age_days, so with the default of 30 a 30 day old backup is
kept and a 31 day old one is removed. Files that do not follow the artifact
naming scheme are never touched.

Examples:
  # See what would be removed
  kyc-backup prune --dry-run

  # Keep one week of backups
  kyc-backup prune --max-age-days 7`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().IntVar(&pruneMaxAge, "max-age-days", 0, "override the configured retention window")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "list expired artifacts without deleting them")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-age-days") {
		cfg.Backup.Retention.MaxAgeDays = pruneMaxAge
	}
	if err := cfg.Backup.Validate(); err != nil {
		return configError(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	printer, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx := logging.ContextWithRunID(cmd.Context(), logging.NewRunID())

	sweeper := backup.NewSweeper(cfg.Backup.Prefix, logger)
	sweeper.DryRun = pruneDryRun

	result, err := sweeper.Sweep(ctx, cfg.Backup.Root, cfg.Backup.Retention.MaxAgeDays)
	for _, path := range result.Deleted {
		if pruneDryRun {
			printer.Info("would remove %s", filepath.Base(path))
		} else {
			printer.Info("removed %s", filepath.Base(path))
		}
	}
	for _, f := range result.Failures {
		printer.Warning("could not delete %s: %v", filepath.Base(f.Path), f.Err)
	}
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if err := result.Err(); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	printer.Success("Retention applied to %s: %d of %d artifact(s) expired (max age %d days)",
		cfg.Backup.Root, len(result.Deleted), result.Scanned, cfg.Backup.Retention.MaxAgeDays)
	return nil
}
