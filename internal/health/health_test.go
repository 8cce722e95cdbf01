package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_OverallStatus_DefaultsHealthyWithNoComponents(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	resp, err := m.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestMonitor_OverallStatus_DegradedWinsOverHealthy(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	m.UpdateComponent("mqtt", StatusHealthy, "ok")
	m.UpdateComponent("netenforce", StatusDegraded, "retrying")

	resp, err := m.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestMonitor_OverallStatus_UnhealthyWinsOverDegraded(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	m.UpdateComponent("mqtt", StatusUnhealthy, "disconnected")
	m.UpdateComponent("netenforce", StatusDegraded, "retrying")

	resp, err := m.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestMonitor_IsReady_FalseWhenAComponentIsUnhealthy(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	m.UpdateComponent("mqtt", StatusUnhealthy, "disconnected")

	r, err := m.IsReady(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Ready)
}

func TestMonitor_IsReady_TrueWhenAllHealthyOrDegraded(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	m.UpdateComponent("mqtt", StatusDegraded, "retrying")

	r, err := m.IsReady(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Ready, "degraded is not unready")
}

func TestMonitor_IsAlive_AlwaysTrue(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	l, err := m.IsAlive(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Alive)
}

func TestMonitor_GetDetailedHealth_IncludesEveryComponent(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	m.UpdateComponent("mqtt", StatusHealthy, "ok")
	m.UpdateComponent("netenforce", StatusHealthy, "ok")

	resp, err := m.GetDetailedHealth(context.Background())
	require.NoError(t, err)
	assert.Len(t, resp.Components, 2)
}
