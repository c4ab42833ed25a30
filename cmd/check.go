package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kyc-backup/internal/config"
	"kyc-backup/internal/database"
	"kyc-backup/internal/display"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the database and object store are reachable",
	Long: `Connect to the database and the object store with the effective
configuration and report whether each configured bucket exists. Nothing is
written anywhere.

Examples:
  kyc-backup check
  kyc-backup check -o json`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	results := []display.CheckResult{checkDatabase(ctx, cfg, logger)}
	results = append(results, checkObjectStore(ctx, cfg, logger)...)

	if err := printer.Checks(results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.OK {
			return &ExitError{Code: ExitFailure}
		}
	}
	return nil
}

func checkDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) display.CheckResult {
	result := display.CheckResult{
		Name:   "database",
		Target: fmt.Sprintf("%s %s/%s", cfg.Database.Engine, cfg.Database.Address(), cfg.Database.Database),
	}

	start := time.Now()
	db, err := database.New(cfg.Database, logger)
	if err == nil {
		defer db.Close()
		err = db.Ping(ctx)
	}
	if err == nil {
		var exists bool
		exists, err = db.DatabaseExists(ctx, cfg.Database.Database)
		if err == nil && !exists {
			err = fmt.Errorf("database %q does not exist", cfg.Database.Database)
		}
	}
	result.Took = time.Since(start)
	result.OK = err == nil
	if err != nil {
		result.Detail = apperrors.FormatUserError(err)
	}
	return result
}

func checkObjectStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) []display.CheckResult {
	result := display.CheckResult{
		Name:   "object store",
		Target: cfg.ObjectStore.Provider,
	}
	if cfg.ObjectStore.Endpoint != "" {
		result.Target += " " + cfg.ObjectStore.Endpoint
	}

	start := time.Now()
	store, err := openObjectStore(ctx, cfg, logger)
	var buckets []string
	if err == nil {
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}
		buckets, err = store.ListBuckets(ctx)
	}
	result.Took = time.Since(start)
	result.OK = err == nil
	if err != nil {
		result.Detail = apperrors.FormatUserError(err)
		return []display.CheckResult{result}
	}
	result.Detail = fmt.Sprintf("%d bucket(s) visible", len(buckets))

	visible := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		visible[b] = true
	}

	results := []display.CheckResult{result}
	for _, b := range cfg.ObjectStore.Buckets {
		r := display.CheckResult{Name: "bucket", Target: b, OK: visible[b]}
		if !r.OK {
			r.Detail = fmt.Sprintf("bucket %s not found; visible: %s", b, strings.Join(buckets, ", "))
		}
		results = append(results, r)
	}
	return results
}
