package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(qsos.WithLabelValues("inserted"))
	AddQSOs("inserted", 3)
	AddQSOs("inserted", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(qsos.WithLabelValues("inserted")))

	before = testutil.ToFloat64(tasks.WithLabelValues("completed"))
	ObserveTask("completed", 1500*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(tasks.WithLabelValues("completed")))

	assert.NotPanics(t, func() {
		IncRemote("ok")
		IncHTTP("healthz")
	})
}
