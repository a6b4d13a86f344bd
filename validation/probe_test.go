package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyChecker struct {
	healthy atomic.Bool
	calls   atomic.Int64
}

func (c *flakyChecker) Health(_ context.Context) error {
	c.calls.Add(1)
	if c.healthy.Load() {
		return nil
	}
	return context.DeadlineExceeded
}

func TestProbeStartsUnknown(t *testing.T) {
	probe, err := NewProbe(&flakyChecker{})
	require.NoError(t, err)

	snap := probe.Snapshot()
	assert.False(t, snap.Known())
	assert.False(t, snap.IsAvailable)
}

func TestProbeCheckNow(t *testing.T) {
	checker := &flakyChecker{}
	checker.healthy.Store(true)

	probe, err := NewProbe(checker)
	require.NoError(t, err)

	snap := probe.CheckNow(context.Background())
	assert.True(t, snap.Known())
	assert.True(t, snap.IsAvailable)
	assert.WithinDuration(t, time.Now().UTC(), snap.CheckedAt, 5*time.Second)

	checker.healthy.Store(false)
	snap = probe.CheckNow(context.Background())
	assert.True(t, snap.Known())
	assert.False(t, snap.IsAvailable)
}

func TestProbeBackgroundPolling(t *testing.T) {
	checker := &flakyChecker{}
	checker.healthy.Store(true)

	probe, err := NewProbe(checker, WithProbeInterval(5*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, probe.Start(context.Background()))
	defer probe.Stop(context.Background())

	// First check runs synchronously on Start
	assert.True(t, probe.Snapshot().IsAvailable)

	checker.healthy.Store(false)
	assert.Eventually(t, func() bool {
		return !probe.Snapshot().IsAvailable
	}, time.Second, time.Millisecond)
	assert.Greater(t, checker.calls.Load(), int64(1))
}

func TestProbeDoubleStart(t *testing.T) {
	probe, err := NewProbe(&flakyChecker{}, WithProbeInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, probe.Start(context.Background()))
	defer probe.Stop(context.Background())

	require.Error(t, probe.Start(context.Background()))
}

func TestProbeStopIsIdempotent(t *testing.T) {
	probe, err := NewProbe(&flakyChecker{}, WithProbeInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, probe.Start(context.Background()))
	probe.Stop(context.Background())
	probe.Stop(context.Background())
}

func TestProbeAgainstHTTPTier(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	tier, err := NewHTTPTier(SourcePrimary, server.URL, "/api/validate")
	require.NoError(t, err)

	probe, err := NewProbe(tier, WithProbeTimeout(time.Second))
	require.NoError(t, err)

	assert.True(t, probe.CheckNow(context.Background()).IsAvailable)

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, probe.CheckNow(context.Background()).IsAvailable)
}
