package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kyc-backup/internal/archive"
	"kyc-backup/internal/config"
	"kyc-backup/internal/database"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
	"kyc-backup/internal/objectstore"
)

// Orchestrator runs dump, mirror, sweep and manifest as one timestamped run
type Orchestrator struct {
	cfg         config.BackupConfig
	buckets     []string
	store       database.Store
	dumper      *Dumper
	mirror      *Mirror
	sweeper     *Sweeper
	metricsPath string
	logger      *logging.Logger
	now         func() time.Time
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for run timestamps and retention
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.sweeper.Now = now
	}
}

// NewOrchestrator wires the stages from cfg
func NewOrchestrator(cfg *config.Config, db database.Store, objects objectstore.Store, logger *logging.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	dumpCodec, err := archive.Lookup(cfg.Backup.Compression)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid backup compression", err)
	}
	mirrorCodec, err := archive.Lookup(cfg.Mirror.Compression)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid mirror compression", err)
	}

	bc := cfg.Backup
	o := &Orchestrator{
		cfg:         bc,
		buckets:     append([]string(nil), cfg.ObjectStore.Buckets...),
		store:       db,
		dumper:      NewDumper(db, bc.Root, bc.Prefix, dumpCodec, bc.CompressionLevel, logger),
		mirror:      NewMirror(objects, bc.Root, bc.Prefix, mirrorCodec, bc.CompressionLevel, cfg.Mirror.Parallelism, logger),
		sweeper:     NewSweeper(bc.Prefix, logger),
		metricsPath: cfg.Metrics.TextfilePath,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run performs one backup. Dump and mirror are both attempted whatever
// the other's outcome, and retention always runs afterwards, exempting
// the run's own artifacts. The returned error is non-nil only when the
// run failed; a partial failure is reported through run.Status.
func (o *Orchestrator) Run(ctx context.Context) (*BackupRun, error) {
	started := time.Now()
	run := &BackupRun{ID: logging.NewRunID(), Directory: o.cfg.Root, Status: StatusFailed}
	ctx = logging.ContextWithRunID(ctx, run.ID)

	if err := os.MkdirAll(o.cfg.Root, 0o750); err != nil {
		err = apperrors.WrapError(err, fmt.Sprintf("cannot create backup root %s", o.cfg.Root))
		run.Stages = append(run.Stages, StageResult{Name: StageDump, Status: StageFailed, Err: err})
		return run, err
	}
	run.Timestamp = o.nextTimestamp(ctx)

	done := o.logger.LogOperationStart(ctx, "backup", map[string]interface{}{
		"timestamp": FormatTimestamp(run.Timestamp),
		"root":      o.cfg.Root,
		"database":  o.store.Database(),
		"buckets":   strings.Join(o.buckets, ","),
	})

	run.Stages = append(run.Stages, o.stage(ctx, StageDump, func() (StageStatus, error) {
		ref, err := o.dumper.Dump(ctx, run.Timestamp)
		if err != nil {
			return StageFailed, err
		}
		run.Artifacts = append(run.Artifacts, *ref)
		return StageOK, nil
	}))

	var mirrored *MirrorResult
	run.Stages = append(run.Stages, o.stage(ctx, StageMirror, func() (StageStatus, error) {
		if len(o.buckets) == 0 {
			return StageSkipped, nil
		}
		res, err := o.mirror.Mirror(ctx, run.Timestamp, o.buckets)
		mirrored = res
		run.BucketFailures = res.Failed
		if err != nil {
			return StageFailed, err
		}
		if res.Artifact != nil {
			run.Artifacts = append(run.Artifacts, *res.Artifact)
		}
		return res.Status, res.Err()
	}))

	run.Stages = append(run.Stages, o.stage(ctx, StageSweep, func() (StageStatus, error) {
		res, err := o.sweeper.Sweep(ctx, o.cfg.Root, o.cfg.Retention.MaxAgeDays, run.Timestamp)
		run.Sweep = res
		if err != nil {
			return StageFailed, err
		}
		if err := res.Err(); err != nil {
			return StagePartial, err
		}
		return StageOK, nil
	}))

	run.Status = runStatus(run)

	if !o.cfg.DisableManifest && ctx.Err() == nil {
		run.Stages = append(run.Stages, o.stage(ctx, StageManifest, func() (StageStatus, error) {
			ref, err := o.writeManifest(ctx, run, mirrored)
			if err != nil {
				return StageFailed, err
			}
			run.Artifacts = append(run.Artifacts, *ref)
			return StageOK, nil
		}))
	}

	run.Duration = time.Since(started)
	o.exportMetrics(ctx, run)

	if run.Status == StatusPartialFailure {
		failed := make([]string, 0, len(run.BucketFailures))
		for _, f := range run.BucketFailures {
			failed = append(failed, f.Bucket)
		}
		o.logger.WithContext(ctx).WithField("failed_buckets", strings.Join(failed, ",")).
			Warn("Backup run finished with failures")
	}
	err := run.Err()
	done(err, map[string]interface{}{
		"run_status": run.Status,
		"artifacts":  len(run.Artifacts),
		"bytes":      run.TotalSize(),
	})
	return run, err
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func() (StageStatus, error)) StageResult {
	start := time.Now()
	status, err := fn()
	d := time.Since(start)
	o.logger.LogStage(ctx, name, string(status), d, err)
	return StageResult{Name: name, Status: status, Duration: d, Err: err}
}

// runStatus derives the overall status: a failed dump or a mirror with no
// bucket archived fails the run, some failed buckets make it partial.
// Sweep failures are recorded but never change the status.
func runStatus(run *BackupRun) Status {
	status := StatusSuccess
	for _, s := range run.Stages {
		switch s.Name {
		case StageDump, StageMirror:
			switch s.Status {
			case StageFailed:
				return StatusFailed
			case StagePartial:
				status = StatusPartialFailure
			}
		}
	}
	return status
}

// maxTimestampLead is how far ahead of the clock an existing run may be
// and still push the next run's timestamp past it
const maxTimestampLead = time.Minute

// nextTimestamp returns the current second, moved past existing runs in the
// backup root that are at or up to maxTimestampLead ahead of it so runs stay
// strictly ordered. Runs further in the future are left out of the ordering.
func (o *Orchestrator) nextTimestamp(ctx context.Context) time.Time {
	now := o.now().UTC().Truncate(time.Second)
	limit := now.Add(maxTimestampLead)
	ts := now

	entries, err := os.ReadDir(o.cfg.Root)
	if err != nil {
		return ts
	}
	// ReadDir sorts by name, so a prefix's timestamps come in ascending order
	for _, e := range entries {
		name := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "."), ".partial")
		n, ok := ParseArtifactName(name)
		if !ok || n.Prefix != o.cfg.Prefix {
			continue
		}
		if !n.Timestamp.Before(limit) {
			o.logger.WithContext(ctx).WithField("artifact", e.Name()).
				Warn("Ignoring artifact dated in the future for run ordering")
			continue
		}
		if !n.Timestamp.Before(ts) {
			ts = n.Timestamp.Add(time.Second)
		}
	}
	return ts
}

func (o *Orchestrator) writeManifest(ctx context.Context, run *BackupRun, mirrored *MirrorResult) (*ArtifactRef, error) {
	m, err := BuildManifest(ctx, run, o.store.Engine(), o.store.Database(), mirrored, o.buckets)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to build manifest")
	}

	name := ArtifactName{Prefix: o.cfg.Prefix, Timestamp: run.Timestamp, Kind: KindManifest, Ext: "yaml"}
	path := filepath.Join(o.cfg.Root, name.String())
	size, err := WriteManifest(path, m)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to write manifest")
	}

	ref := &ArtifactRef{Kind: KindManifest, Path: path, Size: size, Compression: archive.None}
	o.logger.LogArtifact(ctx, string(ref.Kind), ref.Path, ref.Size)
	return ref, nil
}

func (o *Orchestrator) exportMetrics(ctx context.Context, run *BackupRun) {
	if o.metricsPath == "" {
		return
	}
	m := NewMetrics()
	m.Observe(run)
	if err := m.WriteTextfile(o.metricsPath); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to write metrics textfile")
	}
}
