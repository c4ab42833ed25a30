package backup

import (
	"fmt"
	"strings"
	"time"

	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/objectstore"
)

// Kind is the logical kind of an artifact, as it appears in the file name
type Kind string

const (
	KindDBDump       Kind = "db"
	KindObjectMirror Kind = "objects"
	KindManifest     Kind = "manifest"
)

// Status is the overall outcome of a backup run
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// StageStatus is the outcome of one stage of a run
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StagePartial StageStatus = "partial"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Stage names
const (
	StageDump     = "dump"
	StageMirror   = "mirror"
	StageSweep    = "sweep"
	StageManifest = "manifest"
)

// ArtifactRef is one file produced by a run
type ArtifactRef struct {
	Kind        Kind
	Path        string
	Size        int64
	Compression string
	Checksum    string
}

// StageResult records how one stage ended
type StageResult struct {
	Name     string
	Status   StageStatus
	Duration time.Duration
	Err      error
}

// BucketFailure is a bucket that could not be mirrored
type BucketFailure struct {
	Bucket string
	Err    error
}

// MirrorResult is the outcome of mirroring every configured bucket
type MirrorResult struct {
	Artifact  *ArtifactRef
	Succeeded []string
	Failed    []BucketFailure
	Stats     map[string]objectstore.SyncStats
	Status    StageStatus
}

// Err returns a partial_mirror error naming the failed buckets, or nil
func (m *MirrorResult) Err() error {
	if len(m.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.Failed))
	for _, f := range m.Failed {
		names = append(names, f.Bucket)
	}
	msg := fmt.Sprintf("failed to mirror bucket(s): %s", strings.Join(names, ", "))
	if m.Status == StageFailed {
		return apperrors.NewAppError(apperrors.ErrorTypeConnection, msg, m.Failed[0].Err)
	}
	return apperrors.NewAppError(apperrors.ErrorTypePartialMirror, msg, m.Failed[0].Err).
		WithContext("buckets", names)
}

// SweepFailure is an artifact the sweeper could not delete
type SweepFailure struct {
	Path string
	Err  error
}

// SweepResult is the outcome of one retention pass
type SweepResult struct {
	Scanned  int
	Deleted  []string
	Failures []SweepFailure
	DryRun   bool
}

// Err returns a sweep error when files could not be deleted, or nil
func (s *SweepResult) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	return apperrors.NewAppError(apperrors.ErrorTypeSweep,
		fmt.Sprintf("%d artifact(s) could not be deleted", len(s.Failures)), s.Failures[0].Err)
}

// BackupRun is the record of one backup invocation
type BackupRun struct {
	ID             string
	Timestamp      time.Time
	Directory      string
	Artifacts      []ArtifactRef
	Status         Status
	Stages         []StageResult
	BucketFailures []BucketFailure
	Sweep          *SweepResult
	Duration       time.Duration
}

// Stage returns the result of the named stage
func (r *BackupRun) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// TotalSize sums the size of every artifact
func (r *BackupRun) TotalSize() int64 {
	var total int64
	for _, a := range r.Artifacts {
		total += a.Size
	}
	return total
}

// Err returns the error that failed the run, or nil when the run did not fail
func (r *BackupRun) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	for _, s := range r.Stages {
		if s.Status == StageFailed && s.Err != nil && (s.Name == StageDump || s.Name == StageMirror) {
			return apperrors.WrapError(s.Err, fmt.Sprintf("backup run %s failed at %s stage", FormatTimestamp(r.Timestamp), s.Name))
		}
	}
	return apperrors.NewAppError(apperrors.ErrorTypeUnknown, "backup run failed", nil)
}
