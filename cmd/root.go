package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kyc-backup/internal/config"
	"kyc-backup/internal/display"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

// Process exit codes
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitCancelled = 2
	ExitPartial   = 3
)

// ExitError ends the process with Code. Err is printed unless it was
// already reported by the command's own status output.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var (
	cfgFile   string
	backupDir string
	verbose   bool
	quiet     bool
	debug     bool
	logFormat string
	logFile   string
	noColor   bool

	outputFormat string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "kyc-backup",
	Short: "Backup and restore for the KYC database and document store",
	Long: `kyc-backup takes consistent, timestamped backups of the KYC relational
database together with a mirror of the object store buckets holding the
uploaded documents, prunes backups past their retention window, and restores
a database dump after explicit confirmation.

Configuration is read from kyc-backup.yaml (current directory or $HOME),
KYC_BACKUP_* environment variables and flags, in increasing precedence.

Examples:
  # Nightly backup from cron, failing the job on any missing bucket
  kyc-backup backup --strict

  # Show what is in the backup root
  kyc-backup list

  # Restore last night's dump into a scratch database, no prompt
  kyc-backup restore backups/kyc_backup_20261017_020000_db.dump.gz --target kyc_verify --yes`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", apperrors.FormatUserError(exit.Err))
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", apperrors.FormatUserError(err))
	if apperrors.IsType(err, apperrors.ErrorTypeInterruption) {
		return ExitCancelled
	}
	return ExitFailure
}

func init() {
	config.RegisterDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./kyc-backup.yaml or $HOME/kyc-backup.yaml)")
	flags.StringVar(&backupDir, "backup-dir", "", "backup root directory")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log per-bucket and per-artifact detail")
	flags.BoolVarP(&quiet, "quiet", "q", false, "log errors only")
	flags.BoolVar(&debug, "debug", false, "log every external store call")
	flags.StringVar(&logFormat, "log-format", "", "log format (text, json)")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")

	flags.StringVarP(&outputFormat, "output", "o", "table", "report format (table, json, yaml)")

	// Bind flags to viper
	cobra.CheckErr(v.BindPFlag("backup.root", flags.Lookup("backup-dir")))
	cobra.CheckErr(v.BindPFlag("logging.format", flags.Lookup("log-format")))
	cobra.CheckErr(v.BindPFlag("logging.file", flags.Lookup("log-file")))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// loadConfig builds the configuration from file, environment and flags.
// Validation is left to the command since each needs a different subset.
func loadConfig() (*config.Config, error) {
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, err.Error(), err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, err.Error(), err)
	}
	return cfg, nil
}

func configError(err error) error {
	return apperrors.NewAppError(apperrors.ErrorTypeConfiguration,
		fmt.Sprintf("invalid configuration: %v", err), err)
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.LogLevel(cfg.Logging.Level)
	switch {
	case debug:
		level = logging.LogLevelDebug
	case verbose:
		level = logging.LogLevelVerbose
	case quiet:
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  cfg.Logging.Format,
		LogFile: cfg.Logging.File,
	})
}

func newPrinter(w io.Writer) (*display.Printer, error) {
	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, err.Error(), err)
	}
	if noColor {
		return display.NewPrinter(w, format, false, display.DetectUnicode(w)), nil
	}
	return display.NewAutoPrinter(w, format), nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
	rootCmd.Version = v
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kyc-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
