package backup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-backup/internal/archive"
)

func TestParseArtifactName(t *testing.T) {
	ts := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ok    bool
		kind  Kind
		ext   string
		codec string
	}{
		{"kyc_backup_20261017_020000_db.dump.gz", true, KindDBDump, "dump", "gz"},
		{"kyc_backup_20261017_020000_db.sql", true, KindDBDump, "sql", ""},
		{"kyc_backup_20261017_020000_objects.tar.zst", true, KindObjectMirror, "tar", "zst"},
		{"kyc_backup_20261017_020000_objects.tar.lz4", true, KindObjectMirror, "tar", "lz4"},
		{"kyc_backup_20261017_020000_manifest.yaml", true, KindManifest, "yaml", ""},
		{".kyc_backup_20261017_020000_db.dump.gz.partial", false, "", "", ""},
		{"kyc_backup_20261017_020000_db.dump.bz2", false, "", "", ""},
		{"kyc_backup_2026101_020000_db.dump", false, "", "", ""},
		{"kyc_backup_20261317_020000_db.dump", false, "", "", ""},
		{"notes.txt", false, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := ParseArtifactName(tt.name)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, "kyc_backup", n.Prefix)
			assert.True(t, ts.Equal(n.Timestamp))
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.ext, n.Ext)
			assert.Equal(t, tt.codec, n.CodecExt)
			assert.Equal(t, tt.name, n.String())
		})
	}
}

func TestNewArtifactName(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	zstd, err := archive.Lookup(archive.Zstd)
	require.NoError(t, err)
	none, err := archive.Lookup(archive.None)
	require.NoError(t, err)

	assert.Equal(t, "acme_20260102_020405_objects.tar.zst",
		NewArtifactName("acme", ts, KindObjectMirror, "tar", zstd).String())
	assert.Equal(t, "acme_20260102_020405_db.dump",
		NewArtifactName("acme", ts, KindDBDump, "dump", none).String())
	assert.Equal(t, archive.Zstd, NewArtifactName("acme", ts, KindObjectMirror, "tar", zstd).Codec().Name())
}

func TestTempPath(t *testing.T) {
	final := filepath.Join("/backups", "kyc_backup_20261017_020000_db.dump.gz")
	tmp := TempPath(final)

	assert.Equal(t, filepath.Join("/backups", ".kyc_backup_20261017_020000_db.dump.gz.partial"), tmp)
	_, ok := ParseArtifactName(tmp)
	assert.False(t, ok)
}

func TestManifestPath(t *testing.T) {
	path, ok := ManifestPath(filepath.Join("/backups", "kyc_backup_20261017_020000_objects.tar.gz"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/backups", "kyc_backup_20261017_020000_manifest.yaml"), path)

	_, ok = ManifestPath("/backups/random.dump")
	assert.False(t, ok)
}
