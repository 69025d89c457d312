package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

func TestPrometheusMetrics(t *testing.T) {
	metrics.InitRegistry()
	require.True(t, metrics.IsEnabled())

	lm := NewLifecycleMetrics()
	lm.RecordOperation("trash", time.Millisecond, nil)
	lm.RecordOperation("trash", time.Millisecond, metadata.NewConflictError("x", "", metadata.StateTrash))
	lm.RecordTagFailure("trash")

	pm := NewPurgeMetrics()
	pm.RecordRun(time.Second, nil)
	pm.RecordItems("purged", 3)

	tm := NewThumbnailMetrics()
	tm.RecordJob("ready", time.Millisecond)
	tm.RecordDeadLetter("PARSE_FAILURE")
	tm.RecordEnqueued()

	rm := NewRepairMetrics()
	rm.RecordRun("media-hash", true, time.Second, errors.New("boom"))
	rm.RecordRows("media-hash", "written", 2)

	assert.Equal(t, 1.0, counterValue(t, "dittodrive_lifecycle_operations_total", map[string]string{"operation": "trash", "result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, "dittodrive_lifecycle_operations_total", map[string]string{"operation": "trash", "result": "CONFLICT"}))
	assert.Equal(t, 3.0, counterValue(t, "dittodrive_purge_items_total", map[string]string{"outcome": "purged"}))
	assert.Equal(t, 1.0, counterValue(t, "dittodrive_repair_runs_total", map[string]string{"job": "media-hash", "dry_run": "true", "result": "error"}))
}

// counterValue finds the counter sample of family name matching labels.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	samples:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue samples
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no sample of %s with labels %v", name, labels)
	return 0
}
