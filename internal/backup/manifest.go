package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"kyc-backup/internal/archive"
)

// ManifestVersion is bumped when the manifest layout changes incompatibly
const ManifestVersion = 1

// Manifest is the per-run record written next to the artifacts
type Manifest struct {
	Version   int                `yaml:"version"`
	RunID     string             `yaml:"run_id"`
	Timestamp string             `yaml:"timestamp"`
	CreatedAt time.Time          `yaml:"created_at"`
	Engine    string             `yaml:"engine"`
	Database  string             `yaml:"database"`
	Status    Status             `yaml:"status"`
	Artifacts []ManifestArtifact `yaml:"artifacts"`
	Buckets   []ManifestBucket   `yaml:"buckets,omitempty"`
	Stages    []ManifestStage    `yaml:"stages"`
	Sweep     *ManifestSweep     `yaml:"sweep,omitempty"`
}

// ManifestArtifact describes one artifact of the run
type ManifestArtifact struct {
	Kind        Kind   `yaml:"kind"`
	File        string `yaml:"file"`
	Size        int64  `yaml:"size"`
	Compression string `yaml:"compression"`
	SHA256      string `yaml:"sha256"`
}

// ManifestBucket is the mirror outcome of one bucket
type ManifestBucket struct {
	Name    string `yaml:"name"`
	Status  string `yaml:"status"`
	Objects int    `yaml:"objects,omitempty"`
	Bytes   int64  `yaml:"bytes,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// ManifestStage is the outcome of one stage
type ManifestStage struct {
	Name     string      `yaml:"name"`
	Status   StageStatus `yaml:"status"`
	Duration string      `yaml:"duration"`
	Error    string      `yaml:"error,omitempty"`
}

// ManifestSweep lists what the run's retention pass removed
type ManifestSweep struct {
	Deleted  []string `yaml:"deleted,omitempty"`
	Failures []string `yaml:"failures,omitempty"`
}

// Artifact returns the entry for file name, or nil
func (m *Manifest) Artifact(file string) *ManifestArtifact {
	base := filepath.Base(file)
	for i := range m.Artifacts {
		if m.Artifacts[i].File == base {
			return &m.Artifacts[i]
		}
	}
	return nil
}

// WriteManifest writes m atomically to path
func WriteManifest(path string, m *Manifest) (int64, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("manifest marshal: %w", err)
	}
	tmp := TempPath(path)
	size, err := archive.WriteFile(tmp, 0o640, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err == nil {
		err = archive.Publish(tmp, path)
	}
	if err != nil {
		if taken := nameTaken(err, path); taken != nil {
			return 0, taken
		}
		return 0, err
	}
	return size, nil
}

// ReadManifest loads a manifest file
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest decode %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// FindManifest loads the manifest of the run that produced artifact.
// It returns nil without error when the run has no manifest.
func FindManifest(artifact string) (*Manifest, error) {
	path, ok := ManifestPath(artifact)
	if !ok {
		return nil, nil
	}
	m, err := ReadManifest(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// BuildManifest records a finished run, checksumming every artifact
func BuildManifest(ctx context.Context, run *BackupRun, engine, database string, mirror *MirrorResult, buckets []string) (*Manifest, error) {
	m := &Manifest{
		Version:   ManifestVersion,
		RunID:     run.ID,
		Timestamp: FormatTimestamp(run.Timestamp),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Engine:    engine,
		Database:  database,
		Status:    run.Status,
	}

	for _, a := range run.Artifacts {
		sum, err := archive.Checksum(ctx, a.Path)
		if err != nil {
			return nil, err
		}
		m.Artifacts = append(m.Artifacts, ManifestArtifact{
			Kind:        a.Kind,
			File:        filepath.Base(a.Path),
			Size:        a.Size,
			Compression: a.Compression,
			SHA256:      sum,
		})
	}

	if mirror != nil {
		failed := make(map[string]error, len(mirror.Failed))
		for _, f := range mirror.Failed {
			failed[f.Bucket] = f.Err
		}
		for _, b := range buckets {
			entry := ManifestBucket{Name: b}
			if err, ok := failed[b]; ok {
				entry.Status = string(StageFailed)
				entry.Error = err.Error()
			} else if stats, ok := mirror.Stats[b]; ok {
				entry.Status = string(StageOK)
				entry.Objects = stats.Objects
				entry.Bytes = stats.Bytes
			} else {
				entry.Status = string(StageSkipped)
			}
			m.Buckets = append(m.Buckets, entry)
		}
	}

	for _, s := range run.Stages {
		entry := ManifestStage{Name: s.Name, Status: s.Status, Duration: s.Duration.Round(time.Millisecond).String()}
		if s.Err != nil {
			entry.Error = s.Err.Error()
		}
		m.Stages = append(m.Stages, entry)
	}

	if run.Sweep != nil {
		sweep := &ManifestSweep{}
		for _, d := range run.Sweep.Deleted {
			sweep.Deleted = append(sweep.Deleted, filepath.Base(d))
		}
		for _, f := range run.Sweep.Failures {
			sweep.Failures = append(sweep.Failures, fmt.Sprintf("%s: %v", filepath.Base(f.Path), f.Err))
		}
		m.Sweep = sweep
	}
	return m, nil
}
