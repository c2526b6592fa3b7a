package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-cacheguard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := metrics.NewCollector("cacheguard")

	c.CacheLookup("shop", metrics.ResultHit)
	c.CacheLookup("shop", metrics.ResultHit)
	c.CacheLookup("shop", metrics.ResultNegative)
	c.StoreLoad("shop", metrics.OutcomeFound)
	c.LockContended("shop")
	c.RebuildJob(metrics.RebuildOK)

	count, err := testutil.GatherAndCount(c.Registry(), "cacheguard_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per label combination")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cacheguard_cache_lookups_total{cache="shop",result="hit"} 2`)
	assert.Contains(t, string(body), `cacheguard_rebuild_jobs_total{outcome="ok"} 1`)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.CacheLookup("shop", metrics.ResultMiss)
		c.StoreLoad("shop", metrics.OutcomeError)
		c.LockContended("shop")
		c.RebuildJob(metrics.RebuildFailed)
	})
}
