package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	Init()
	Init()

	reason := map[string]string{"reason": "timeout"}
	before := counterValue(t, "docbroker_session_restarts_total", reason)
	IncSessionRestart("timeout")
	assert.Equal(t, before+1, counterValue(t, "docbroker_session_restarts_total", reason))

	op := map[string]string{"backend": "x2t", "operation": "convert", "result": "ok"}
	before = counterValue(t, "docbroker_operations_total", op)
	ObserveOperation("x2t", "convert", "ok", 250*time.Millisecond)
	assert.Equal(t, before+1, counterValue(t, "docbroker_operations_total", op))

	before = counterValue(t, "docbroker_office_retries_total", nil)
	IncRetry()
	assert.Equal(t, before+1, counterValue(t, "docbroker_office_retries_total", nil))
}
