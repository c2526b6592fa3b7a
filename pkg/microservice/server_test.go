package microservice_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/metrics"
	"github.com/illmade-knight/go-cacheguard/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestBaseServer(t *testing.T) {
	// Arrange
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")
	var svc microservice.Service = server
	m := metrics.NewCollector("test")
	m.CacheLookup("shop", metrics.ResultHit)
	server.HandleMetrics(m.Handler())

	var unhealthy atomic.Bool
	server.AddHealthCheck("redis", func(context.Context) error {
		if !unhealthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	// Act
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	base := "http://localhost" + svc.GetHTTPPort()

	// Assert
	assert.NotEqual(t, ":0", server.GetHTTPPort())

	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `test_cache_lookups_total{cache="shop",result="hit"} 1`)

	unhealthy.Store(true)
	code, body = get(t, base+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "redis unavailable")
}
