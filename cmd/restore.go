package cmd

import (
	"github.com/spf13/cobra"

	"kyc-backup/internal/confirmation"
	"kyc-backup/internal/database"
	"kyc-backup/internal/logging"
	"kyc-backup/internal/restore"
)

var (
	assumeYes    bool
	targetDB     string
	skipChecksum bool
	stagingDir   string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <artifact>",
	Short: "Replace a database with the contents of a dump artifact",
	Long: `Restore a database dump artifact into the configured database, or into
--target. The target database is dropped and recreated, so the command asks
for confirmation first: only the exact answer "yes" proceeds.

When the run's manifest is next to the artifact its checksum is verified
before anything is dropped. If a destructive step fails, the error states
whether the target database is unchanged, absent, empty or partially loaded.

Only one restore into a given database runs at a time on this host.

Examples:
  # Interactive restore of last night's dump
  kyc-backup restore backups/kyc_backup_20261017_020000_db.dump.gz

  # Scripted restore into a scratch database
  kyc-backup restore backups/kyc_backup_20261017_020000_db.dump.gz --target kyc_verify --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	flags := restoreCmd.Flags()
	flags.BoolVarP(&assumeYes, "yes", "y", false, "answer the confirmation prompt with yes")
	flags.StringVar(&targetDB, "target", "", "database to restore into (default is the configured database)")
	flags.BoolVar(&skipChecksum, "skip-checksum", false, "do not verify the artifact against the run manifest")
	flags.StringVar(&stagingDir, "staging-dir", "", "directory for the decompressed dump (default is the system temp dir)")

	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if targetDB != "" {
		cfg.Restore.TargetDatabase = targetDB
	}
	if stagingDir != "" {
		cfg.Restore.StagingDir = stagingDir
	}
	if skipChecksum {
		cfg.Restore.SkipChecksum = true
	}
	if err := cfg.ValidateForRestore(); err != nil {
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

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return configError(err)
	}
	defer db.Close()

	var source confirmation.Source = confirmation.NewTerminal()
	if assumeYes {
		source = confirmation.Approve()
	}

	restorer := restore.NewRestorer(db, confirmation.NewGate(source), cfg.Restore, logger)
	res, err := restorer.Restore(ctx, args[0])
	printer.Restore(res, err)

	switch {
	case res != nil && res.State == restore.StateAborted:
		return &ExitError{Code: ExitCancelled}
	case err != nil:
		return &ExitError{Code: ExitFailure}
	}
	return nil
}
