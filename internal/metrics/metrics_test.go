package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{ acquired, idle, total int32 }

func (f fakeStats) AcquiredConns() int32 { return f.acquired }
func (f fakeStats) IdleConns() int32     { return f.idle }
func (f fakeStats) TotalConns() int32    { return f.total }

func TestRegisterPoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterPoolGauges(reg, func() PoolStats { return fakeStats{acquired: 3, idle: 2, total: 5} })

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		got[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 3.0, got["economy_db_acquired_conns"])
	assert.Equal(t, 2.0, got["economy_db_idle_conns"])
	assert.Equal(t, 5.0, got["economy_db_total_conns"])
}

func TestJobRunsCounter(t *testing.T) {
	before := testutil.ToFloat64(JobRuns.WithLabelValues("test_job", StatusOK))
	JobRuns.WithLabelValues("test_job", StatusOK).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobRuns.WithLabelValues("test_job", StatusOK)))
}
