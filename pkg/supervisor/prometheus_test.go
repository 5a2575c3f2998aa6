package supervisor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsCollector(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.InstanceStateTransition("redis-server", StateIdle, StateStarting)
	pmc.InstanceStateTransition("redis-server", StateStarting, StateReady)
	pmc.InstanceStartDuration("redis-server", 150*time.Millisecond, nil)
	pmc.InstanceStartDuration("redis-server", 10*time.Millisecond, errors.New("boom"))
	pmc.InstanceError("redis-server", "startup")
	pmc.OutputLine("redis-server", "stdout")
	pmc.OutputLine("redis-server", "stdout")

	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.stateTransitions.WithLabelValues("redis-server", "Starting", "Ready")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.ready.WithLabelValues("redis-server")))
	assert.Equal(t, float64(2), testutil.ToFloat64(pmc.outputLines.WithLabelValues("redis-server", "stdout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.errors.WithLabelValues("redis-server", "startup")))

	pmc.InstanceStateTransition("redis-server", StateReady, StateStopped)
	pmc.InstanceStopDuration("redis-server", 20*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(pmc.ready.WithLabelValues("redis-server")))

	count, err := testutil.GatherAndCount(pmc.Registry(), "test_instance_start_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status")
}

func TestPrometheusMetricsCollectorDefaultNamespace(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")
	pmc.InstanceError("redis-sentinel", "drain")

	expected := `
# HELP embedded_redis_instance_errors_total Total number of instance errors
# TYPE embedded_redis_instance_errors_total counter
embedded_redis_instance_errors_total{error_type="drain",role="redis-sentinel"} 1
`
	err := testutil.GatherAndCompare(pmc.Registry(), strings.NewReader(expected), "embedded_redis_instance_errors_total")
	assert.NoError(t, err)
}

func TestNoopMetricsCollector(t *testing.T) {
	mc := NewNoopMetricsCollector()
	mc.InstanceStateTransition("redis-server", StateIdle, StateStarting)
	mc.InstanceStartDuration("redis-server", time.Second, nil)
	mc.InstanceStopDuration("redis-server", time.Second)
	mc.InstanceError("redis-server", "stop")
	mc.OutputLine("redis-server", "stderr")
}
