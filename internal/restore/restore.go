// Package restore replaces a database with the contents of a dump artifact
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kyc-backup/internal/archive"
	"kyc-backup/internal/backup"
	"kyc-backup/internal/config"
	"kyc-backup/internal/confirmation"
	"kyc-backup/internal/database"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/lock"
	"kyc-backup/internal/logging"
)

// probeTimeout bounds the target inspection done after a failure
const probeTimeout = 30 * time.Second

// AcquireFunc takes the per-database restore lock
type AcquireFunc func(ctx context.Context, database string, timeout time.Duration) (lock.Releaser, error)

// Restorer runs the confirm, stage, destroy, recreate, load and cleanup sequence
type Restorer struct {
	store   database.Store
	gate    *confirmation.Gate
	cfg     config.RestoreConfig
	logger  *logging.Logger
	acquire AcquireFunc
}

// NewRestorer creates a restorer; every destructive step is guarded by gate
func NewRestorer(store database.Store, gate *confirmation.Gate, cfg config.RestoreConfig, logger *logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Restorer{
		store:   store,
		gate:    gate,
		cfg:     cfg,
		logger:  logger,
		acquire: lock.Acquire,
	}
}

// Restore replaces the target database with the dump at artifact.
//
// A denial at the confirmation prompt ends in StateAborted with a nil
// error and nothing touched. Failures once the target was dropped are
// returned as *DestructiveStageError; the staged copy is removed on every
// path once staging succeeded.
func (r *Restorer) Restore(ctx context.Context, artifact string) (*Result, error) {
	started := time.Now()
	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())

	target := r.cfg.TargetDatabase
	if target == "" {
		target = r.store.Database()
	}
	res := &Result{
		Artifact:    artifact,
		Target:      target,
		Engine:      r.store.Engine(),
		TargetState: TargetIntact,
	}
	finish := func(state State, err error) (*Result, error) {
		r.enter(ctx, res, state)
		res.Duration = time.Since(started)
		r.logOutcome(ctx, res, err)
		return res, err
	}

	ext, err := r.validate(artifact)
	if err != nil {
		return finish(StateFailed, err)
	}

	r.enter(ctx, res, StateConfirming)
	exists, tables, err := r.inspect(ctx, target)
	if err != nil {
		res.TargetState = TargetUnknown
		return finish(StateFailed, apperrors.WrapError(err, fmt.Sprintf("cannot inspect target database %s", target)))
	}
	if !exists {
		res.TargetState = TargetAbsent
	}

	approved, err := r.gate.Confirm(ctx, confirmation.Describe(confirmation.Plan{
		Artifact:     filepath.Base(artifact),
		Engine:       res.Engine,
		Target:       target,
		TargetExists: exists,
		TargetTables: tables,
	}))
	if err != nil || !approved {
		return finish(StateAborted, err)
	}

	release, err := r.acquire(ctx, target, r.cfg.LockTimeout)
	if err != nil {
		return finish(StateFailed, err)
	}
	defer release.Release()

	r.enter(ctx, res, StateStaging)
	staged, cleanup, err := r.stage(ctx, res, artifact, ext)
	if err != nil {
		return finish(StateFailed, err)
	}

	err = r.replace(ctx, res, staged)

	r.enter(ctx, res, StateCleaningUp)
	cleanup()

	if err != nil {
		return finish(StateFailed, err)
	}
	res.TargetState = TargetRestored
	return finish(StateDone, nil)
}

// validate checks the artifact and returns the dump extension of its contents
func (r *Restorer) validate(artifact string) (string, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("cannot read artifact %s", artifact), err)
	}
	if !info.Mode().IsRegular() {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("%s is not a regular file", artifact), nil)
	}

	want := database.DumpExtension(r.store.Engine())
	name, ok := backup.ParseArtifactName(artifact)
	if !ok {
		// hand-named dumps are accepted; the codec comes from the extension
		return want, nil
	}
	if name.Kind != backup.KindDBDump {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("%s is a %s artifact; only database dumps can be restored", filepath.Base(artifact), name.Kind), nil)
	}
	if name.Ext != want {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("%s holds a .%s dump but the configured engine %s restores .%s dumps",
				filepath.Base(artifact), name.Ext, r.store.Engine(), want), nil)
	}
	return name.Ext, nil
}

// stage verifies the artifact and decompresses it into a private directory.
// cleanup removes that directory and is only returned on success.
func (r *Restorer) stage(ctx context.Context, res *Result, artifact, ext string) (string, func(), error) {
	dir, err := os.MkdirTemp(r.cfg.StagingDir, "kyc-restore-")
	if err != nil {
		return "", nil, apperrors.WrapError(err, "cannot create staging directory")
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.WithContext(ctx).WithField("dir", dir).WithError(err).Warn("Failed to remove staging directory")
		}
	}

	if !r.cfg.SkipChecksum {
		verified, err := r.verify(ctx, artifact)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		res.Verified = verified
	}

	staged := filepath.Join(dir, "restore."+ext)
	codec := archive.FromExtension(artifact)
	n, err := archive.DecompressFile(ctx, artifact, staged, codec)
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return "", nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "restore cancelled while staging", ctx.Err())
		}
		return "", nil, apperrors.WrapError(err, fmt.Sprintf("failed to stage %s", filepath.Base(artifact)))
	}

	r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"codec": codec.Name(),
		"bytes": n,
	}).Debug("Artifact staged")
	return staged, cleanup, nil
}

// verify compares the artifact with the checksum recorded by its run.
// Artifacts without a manifest entry are not verified.
func (r *Restorer) verify(ctx context.Context, artifact string) (bool, error) {
	m, err := backup.FindManifest(artifact)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Manifest unreadable, checksum not verified")
		return false, nil
	}
	if m == nil {
		return false, nil
	}
	entry := m.Artifact(artifact)
	if entry == nil || entry.SHA256 == "" {
		return false, nil
	}

	sum, err := archive.Checksum(ctx, artifact)
	if err != nil {
		return false, apperrors.WrapError(err, "failed to checksum artifact")
	}
	if !strings.EqualFold(sum, entry.SHA256) {
		return false, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("checksum mismatch for %s: manifest has %s, file has %s", filepath.Base(artifact), entry.SHA256, sum), nil)
	}
	return true, nil
}

// replace drops, recreates and loads the target. None of these steps is retried.
func (r *Restorer) replace(ctx context.Context, res *Result, staged string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeInterruption, "restore cancelled before the target was touched", err)
	}

	r.enter(ctx, res, StateDestroying)
	if err := r.store.DropDatabase(ctx, res.Target); err != nil {
		return r.destructive(ctx, res, StateDestroying, err)
	}

	r.enter(ctx, res, StateRecreating)
	if err := r.store.CreateEmptyDatabase(ctx, res.Target); err != nil {
		return r.destructive(ctx, res, StateRecreating, err)
	}

	r.enter(ctx, res, StateLoading)
	if err := r.store.LoadFrom(ctx, staged, res.Target); err != nil {
		return r.destructive(ctx, res, StateLoading, err)
	}
	return nil
}

// destructive probes the target after a failed destructive step
func (r *Restorer) destructive(ctx context.Context, res *Result, stage State, err error) error {
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()

	state := TargetUnknown
	exists, tables, probeErr := r.inspect(probeCtx, res.Target)
	switch {
	case probeErr != nil:
		r.logger.WithContext(ctx).WithError(probeErr).Warn("Cannot inspect target database after failure")
	case !exists:
		state = TargetAbsent
	case tables == 0:
		state = TargetEmpty
	case stage == StateDestroying:
		state = TargetIntact
	default:
		state = TargetPartial
	}
	res.TargetState = state
	return newDestructiveStageError(stage, res.Target, state, err)
}

func (r *Restorer) inspect(ctx context.Context, target string) (bool, int, error) {
	exists, err := r.store.DatabaseExists(ctx, target)
	if err != nil || !exists {
		return false, 0, err
	}
	tables, err := r.store.CountTables(ctx, target)
	if err != nil {
		return true, 0, err
	}
	return true, tables, nil
}

func (r *Restorer) enter(ctx context.Context, res *Result, state State) {
	res.State = state
	res.History = append(res.History, state)
	r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"state":  state,
		"target": res.Target,
	}).Debug("Restore state changed")
}

func (r *Restorer) logOutcome(ctx context.Context, res *Result, err error) {
	entry := r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"artifact":     res.Artifact,
		"target":       res.Target,
		"state":        res.State,
		"target_state": res.TargetState,
		"duration":     res.Duration.Round(time.Millisecond).String(),
	})
	switch res.State {
	case StateDone:
		entry.Info("Restore finished")
	case StateAborted:
		if err != nil {
			entry.WithError(err).Warn("Restore cancelled")
		} else {
			entry.Warn("Restore aborted at confirmation")
		}
	default:
		entry.WithError(err).Error("Restore failed")
	}
}
