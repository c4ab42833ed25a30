package backup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

const day = 24 * time.Hour

// Sweeper deletes aged-out artifacts from a flat backup directory
type Sweeper struct {
	// Prefix restricts the sweep to artifacts of this prefix; empty matches any
	Prefix string
	DryRun bool
	Now    func() time.Time
	Logger *logging.Logger
}

// NewSweeper creates a sweeper for artifacts named with prefix
func NewSweeper(prefix string, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Sweeper{Prefix: prefix, Now: time.Now, Logger: logger}
}

// AgeDays is the artifact age in whole days, counted like find -mtime
func AgeDays(now, modTime time.Time) int {
	age := now.Sub(modTime)
	if age < 0 {
		return 0
	}
	return int(age / day)
}

// Sweep deletes every recognized artifact in dir whose age in whole days
// exceeds maxAgeDays. Artifacts of the exempt run timestamps are never
// touched. A missing dir yields an empty result. Per-file failures are
// collected in the result and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context, dir string, maxAgeDays int, exempt ...time.Time) (*SweepResult, error) {
	result := &SweepResult{DryRun: s.DryRun}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, apperrors.NewAppError(apperrors.ErrorTypeSweep, "cannot read backup directory", err)
	}

	now := s.Now()
	skip := make(map[string]bool, len(exempt))
	for _, ts := range exempt {
		skip[FormatTimestamp(ts)] = true
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "sweep cancelled", err)
		}
		if !e.Type().IsRegular() {
			continue
		}
		name, ok := ParseArtifactName(e.Name())
		if !ok || (s.Prefix != "" && name.Prefix != s.Prefix) {
			continue
		}
		result.Scanned++
		if skip[FormatTimestamp(name.Timestamp)] {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// vanished between ReadDir and Info
			continue
		}
		age := AgeDays(now, info.ModTime())
		if age <= maxAgeDays {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if !s.DryRun {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result.Failures = append(result.Failures, SweepFailure{Path: path, Err: err})
				s.Logger.WithContext(ctx).WithField("path", path).WithError(err).Warn("Failed to delete expired artifact")
				continue
			}
		}
		result.Deleted = append(result.Deleted, path)
		s.Logger.WithContext(ctx).WithFields(map[string]interface{}{
			"path":     path,
			"age_days": age,
			"dry_run":  s.DryRun,
		}).Info("Expired artifact removed")
	}

	sort.Strings(result.Deleted)
	return result, nil
}
