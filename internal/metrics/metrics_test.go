package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()
	r.RecordExtracted("Account")
	r.RecordExtracted("Account")
	r.RecordLoaded("Contact")
	r.RecordFailed("Contact", engine.KindBadData)
	r.RecordFailed("Contact", engine.KindBadData)
	r.RecordFailed("", engine.KindRemoteFailure)

	assert.Equal(t, 2.0, promtest.ToFloat64(r.extracted.WithLabelValues("Account")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.loaded.WithLabelValues("Contact")))
	assert.Equal(t, 2.0, promtest.ToFloat64(r.failed.WithLabelValues("Contact", "BAD_DATA")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.failed.WithLabelValues("", "REMOTE_FAILURE")))
	assert.Equal(t, 4, promtest.CollectAndCount(r.failed)+promtest.CollectAndCount(r.extracted)+promtest.CollectAndCount(r.loaded))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.RecordLoaded("Account")
	r.ObserveDuration("load", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "amaxa.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# TYPE amaxa_records_loaded_total counter")
	assert.Contains(t, out, `amaxa_records_loaded_total{sobject="Account"} 1`)
	assert.Contains(t, out, `amaxa_run_duration_seconds{operation="load"} 1.5`)
}

func TestRecorder_WriteTextfileBadPath(t *testing.T) {
	r := NewRecorder()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "amaxa.prom"))
	assert.ErrorContains(t, err, "write metrics")
}

func TestRecorders_AreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RecordExtracted("Account")
	assert.Equal(t, 0.0, promtest.ToFloat64(b.extracted.WithLabelValues("Account")))

	n, err := promtest.GatherAndCount(a.Registry(), "amaxa_records_extracted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
