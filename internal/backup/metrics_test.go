package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()
	run := &BackupRun{
		Timestamp:      time.Unix(1792202400, 0),
		Status:         StatusPartialFailure,
		Artifacts:      []ArtifactRef{{Kind: KindDBDump, Size: 1024}, {Kind: KindObjectMirror, Size: 4096}},
		BucketFailures: []BucketFailure{{Bucket: "photos"}},
		Stages:         []StageResult{{Name: StageDump, Duration: 2 * time.Second}},
		Sweep:          &SweepResult{Deleted: []string{"a", "b"}},
	}
	m.Observe(run)

	assert.Equal(t, 1792202400.0, testutil.ToFloat64(m.lastRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastStatus.WithLabelValues(string(StatusPartialFailure))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastStatus.WithLabelValues(string(StatusSuccess))))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.artifactBytes.WithLabelValues(string(KindObjectMirror))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failedBuckets))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageDuration.WithLabelValues(StageDump)))
}

func TestMetrics_DryRunSweepNotCounted(t *testing.T) {
	m := NewMetrics()
	m.Observe(&BackupRun{Status: StatusSuccess, Sweep: &SweepResult{Deleted: []string{"a"}, DryRun: true}})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.swept))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Observe(&BackupRun{Timestamp: time.Unix(100, 0), Status: StatusSuccess})

	path := filepath.Join(t.TempDir(), "kyc_backup.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "kyc_backup_last_run_timestamp_seconds 100"), text)
	assert.Contains(t, text, `kyc_backup_last_run_status{status="success"} 1`)
}
