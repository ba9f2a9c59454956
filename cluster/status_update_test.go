package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubiquitousthey/handyrep/config"
	"github.com/ubiquitousthey/handyrep/plugin"
)

func newTestCluster() *Cluster {
	c := New("test", config.Config{}, plugin.NewRegistry(), nil, 1)
	primary := NewServerRecord("p1")
	primary.Role = RolePrimary
	primary.Enabled = true
	primary.Status = StatusHealthy
	c.Servers["p1"] = primary

	r1 := NewServerRecord("r1")
	r1.Role = RoleReplica
	r1.Enabled = true
	r1.Status = StatusHealthy
	c.Servers["r1"] = r1
	c.recomputeClusterStatusLocked()
	return c
}

func TestStatusUpdateRankInvariant(t *testing.T) {
	c := newTestCluster()
	require.NoError(t, c.StatusUpdate("r1", StatusLagged, "behind"))
	require.Equal(t, StatusLagged.Rank(), c.Servers["r1"].StatusNo)
}

func TestStatusUpdateNoopRefreshesTimestampOnly(t *testing.T) {
	c := newTestCluster()
	before := c.Servers["r1"].StatusTS
	require.NoError(t, c.StatusUpdate("r1", StatusHealthy, ""))
	require.True(t, !c.Servers["r1"].StatusTS.Before(before))
	require.Equal(t, StatusHealthy, c.Servers["r1"].Status)
}

func TestStatusUpdatePrimaryDownTurnsClusterDown(t *testing.T) {
	c := newTestCluster()
	require.NoError(t, c.StatusUpdate("p1", StatusDown, "unreachable"))
	require.Equal(t, StatusDown, c.ClusterStatus().Status)
}

func TestStatusUpdateUnknownServer(t *testing.T) {
	c := newTestCluster()
	err := c.StatusUpdate("ghost", StatusDown, "x")
	require.Error(t, err)
}
