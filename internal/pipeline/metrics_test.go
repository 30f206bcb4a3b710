package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/faults"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Summary{
		Stage:           StageRun,
		Records:         10,
		Survivors:       3,
		SetfilesWritten: 5,
		WriteErrors:     1,
		Defaulted:       2,
		Started:         start,
		Finished:        start.Add(2 * time.Second),
	}
	m.Observe(s)
	m.Observe(s)

	assert.Equal(t, 20.0, testutil.ToFloat64(m.Records.WithLabelValues(StageRun)))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Survivors.WithLabelValues(StageRun)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Setfiles.WithLabelValues(StageRun)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WriteErrors.WithLabelValues(StageRun)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Defaulted.WithLabelValues(StageRun)))
	assert.Equal(t, float64(s.Finished.Unix()), testutil.ToFloat64(m.LastRun.WithLabelValues(StageRun, "write_errors")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestMetricsNil(t *testing.T) {
	var m *Metrics
	m.Observe(&Summary{Stage: StageRun})
	assert.NoError(t, m.WriteTextfile("/nonexistent/metrics.prom"))
	assert.NoError(t, NewMetrics().WriteTextfile(""))
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Observe(&Summary{Stage: StageReview, Records: 4, Empty: &faults.EmptyResultError{Stage: faults.StageFilter}})

	path := filepath.Join(t.TempDir(), "setforge.prom")
	require.NoError(t, m.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `setforge_records_total{stage="review"} 4`)
	assert.Contains(t, string(raw), `outcome="empty_filter"`)

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	var ioErr *faults.IOError
	assert.ErrorAs(t, err, &ioErr)
}
