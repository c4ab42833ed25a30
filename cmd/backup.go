package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"kyc-backup/internal/backup"
	"kyc-backup/internal/config"
	"kyc-backup/internal/database"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
	"kyc-backup/internal/objectstore"
)

var strict bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump the database, mirror the buckets and prune old backups",
	Long: `Run one backup: dump the configured database, mirror every configured
object store bucket, then delete backups older than the retention window.

All artifacts of a run share one timestamp. A bucket that cannot be mirrored
makes the run a partial failure; the exit status is 0 unless --strict is set,
in which case it is 3. A failed dump or a mirror with no bucket copied fails
the run with exit status 1.

Examples:
  # Nightly cron job
  kyc-backup backup --config /etc/kyc-backup.yaml

  # Treat a missing bucket as a failed job
  kyc-backup backup --strict -o json`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the run is a partial failure")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
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

	objects, err := openObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := objects.(io.Closer); ok {
		defer c.Close()
	}

	orchestrator, err := backup.NewOrchestrator(cfg, db, objects, logger)
	if err != nil {
		return err
	}

	run, runErr := orchestrator.Run(ctx)
	if run != nil {
		if err := printer.BackupRun(run); err != nil {
			logger.WithContext(ctx).WithError(err).Error("Failed to print backup result")
		}
	}

	switch {
	case ctx.Err() != nil:
		return &ExitError{Code: ExitCancelled}
	case runErr != nil:
		return &ExitError{Code: ExitFailure, Err: runErr}
	case run.Status == backup.StatusPartialFailure && (strict || cfg.Backup.Strict):
		return &ExitError{Code: ExitPartial}
	}
	return nil
}

func openObjectStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (objectstore.Store, error) {
	retry := apperrors.DefaultRetryConfig()
	if cfg.Mirror.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Mirror.RetryAttempts
	}

	store, err := objectstore.New(ctx, cfg.ObjectStore, objectstore.Options{
		Retry:  apperrors.NewRetryHandler(retry),
		Logger: logger,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to create object store client")
	}
	return store, nil
}
