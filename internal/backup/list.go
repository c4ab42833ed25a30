package backup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "kyc-backup/internal/errors"
)

// ListedArtifact is an artifact found in the backup root
type ListedArtifact struct {
	File        string    `json:"file" yaml:"file"`
	Path        string    `json:"path" yaml:"path"`
	Kind        Kind      `json:"kind" yaml:"kind"`
	Size        int64     `json:"size" yaml:"size"`
	Compression string    `json:"compression" yaml:"compression"`
	ModTime     time.Time `json:"mod_time" yaml:"mod_time"`
}

// RunListing groups the artifacts of one run timestamp
type RunListing struct {
	Prefix    string           `json:"prefix" yaml:"prefix"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Artifacts []ListedArtifact `json:"artifacts" yaml:"artifacts"`
	// Status comes from the run manifest and is empty without one
	Status Status `json:"status,omitempty" yaml:"status,omitempty"`
}

// Size sums the artifact sizes of the run
func (l RunListing) Size() int64 {
	var total int64
	for _, a := range l.Artifacts {
		total += a.Size
	}
	return total
}

// Find returns the artifact of the given kind
func (l RunListing) Find(kind Kind) *ListedArtifact {
	for i := range l.Artifacts {
		if l.Artifacts[i].Kind == kind {
			return &l.Artifacts[i]
		}
	}
	return nil
}

// List reads the backup root and groups artifacts by prefix and run, newest run first.
// An empty prefix lists every prefix. A missing directory lists nothing.
func List(dir, prefix string) ([]RunListing, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.WrapError(err, "cannot read backup directory")
	}

	runs := make(map[string]*RunListing)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, ok := ParseArtifactName(e.Name())
		if !ok || (prefix != "" && name.Prefix != prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		key := name.Prefix + "_" + FormatTimestamp(name.Timestamp)
		run, ok := runs[key]
		if !ok {
			run = &RunListing{Prefix: name.Prefix, Timestamp: name.Timestamp}
			runs[key] = run
		}
		path := filepath.Join(dir, e.Name())
		run.Artifacts = append(run.Artifacts, ListedArtifact{
			File:        e.Name(),
			Path:        path,
			Kind:        name.Kind,
			Size:        info.Size(),
			Compression: name.Codec().Name(),
			ModTime:     info.ModTime(),
		})
		if name.Kind == KindManifest {
			if m, err := ReadManifest(path); err == nil {
				run.Status = m.Status
			}
		}
	}

	listings := make([]RunListing, 0, len(runs))
	for _, run := range runs {
		sort.Slice(run.Artifacts, func(i, j int) bool {
			return kindOrder(run.Artifacts[i].Kind) < kindOrder(run.Artifacts[j].Kind)
		})
		listings = append(listings, *run)
	}
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].Timestamp.Equal(listings[j].Timestamp) {
			return listings[i].Timestamp.After(listings[j].Timestamp)
		}
		return listings[i].Prefix < listings[j].Prefix
	})
	return listings, nil
}

func kindOrder(k Kind) int {
	switch k {
	case KindDBDump:
		return 0
	case KindObjectMirror:
		return 1
	default:
		return 2
	}
}
