package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	m := New()

	m.RecordTransition("", "CREATING")
	m.RecordTransition("CREATING", "RUNNING")
	m.RecordTransition("CREATING", "RUNNING")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("none", "CREATING")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.transitions.WithLabelValues("CREATING", "RUNNING")))
}

func TestObserveProvisioner(t *testing.T) {
	m := New()

	m.ObserveProvisioner("provision", nil, 200*time.Millisecond)
	m.ObserveProvisioner("provision", errors.New("quota"), time.Second)
	m.ObserveProvisioner("deprovision", nil, time.Second)

	assert.Equal(t, 3, testutil.CollectAndCount(m.provisionerDuration))
}

func TestRecordSweep(t *testing.T) {
	m := New()
	at := time.Unix(1_800_000_000, 0)

	m.RecordSweep(at, 2, 1)
	m.RecordSweep(at.Add(5*time.Minute), 0, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.reaperSweeps))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.reaperTerminations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reaperTerminations.WithLabelValues(ResultError)))
	assert.Equal(t, float64(at.Add(5*time.Minute).Unix()), testutil.ToFloat64(m.reaperLastSweep))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("RUNNING", "TERMINATING")
		m.ObserveProvisioner("provision", nil, time.Second)
		m.RecordSweep(time.Now(), 1, 0)
	})
}

func TestHandlerExposesKadaliMetrics(t *testing.T) {
	m := New()
	m.RecordTransition("RUNNING", "TERMINATING")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kadali_cluster_transitions_total{from="RUNNING",to="TERMINATING"} 1`)
}
