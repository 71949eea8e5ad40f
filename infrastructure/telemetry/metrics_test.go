package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.StackDesync()
	m.OrphanLeave()
	m.OrphanLeave()
	m.AllocRegression()
	m.ReportWritten(3)
	m.ReportFailed(5)
	m.CollectorRegistered()
	m.CollectorRegistered()
	m.CollectorUnregistered()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StackDesyncs))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrphanLeaves))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocRegressions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ReportRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveCollectors))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering the same instruments twice should fail")
}

func TestNilMetrics(t *testing.T) {
	m := NilMetrics()
	m.StackDesync()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StackDesyncs))
}
