package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("relay", "serving")
	m.UpdateUnhealthy("validator", "primary tier down")

	status, ok := m.Get("relay")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "relay", status.Component)

	status, ok = m.Get("validator")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())

	_, ok = m.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, 2, m.Count())
}

func TestMonitorAggregate(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("relay", "serving")
	m.UpdateHealthy("gateway", "serving")
	agg := m.AggregateHealth("nexus")
	assert.True(t, agg.IsHealthy())
	assert.Len(t, agg.SubStatuses, 2)

	m.UpdateDegraded("validator", "running on mock tier")
	agg = m.AggregateHealth("nexus")
	assert.True(t, agg.IsDegraded())

	m.UpdateUnhealthy("relay", "listener failed")
	agg = m.AggregateHealth("nexus")
	assert.True(t, agg.IsUnhealthy())
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate("nexus", nil)
	assert.True(t, agg.IsHealthy())
}

func TestMonitorRemove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("relay", "serving")
	m.Remove("relay")
	_, ok := m.Get("relay")
	assert.False(t, ok)
}
