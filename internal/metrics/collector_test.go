package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("memmesh_test", reg)

	c.RecordAttempt("local", "load", "ok")
	c.RecordAttempt("local", "load", "ok")
	c.RecordAttempt("service", "load", "failed")
	c.RecordExhausted("get")
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordProbe("realtime", 50*time.Millisecond)

	require.Equal(t, float64(2),
		testutil.ToFloat64(c.backendAttempts.WithLabelValues("local", "load", "ok")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.backendAttempts.WithLabelValues("service", "load", "failed")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.fallbackExhausted.WithLabelValues("get")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.cacheHits))
	require.Equal(t, float64(1), testutil.ToFloat64(c.cacheMisses))
}

func TestNilCollectorIsNoop(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordAttempt("local", "load", "ok")
	c.RecordExhausted("load")
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordProbe("local", time.Millisecond)
}
