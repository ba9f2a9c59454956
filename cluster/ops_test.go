package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddServerRequiresHostname(t *testing.T) {
	c := newTestCluster()
	res := c.AddServer(context.Background(), "r3", map[string]interface{}{})
	require.False(t, res.OK)
}

func TestAddServerDefaultsDisabledReplica(t *testing.T) {
	c := newTestCluster()
	res := c.AddServer(context.Background(), "r3", map[string]interface{}{"hostname": "db3.internal"})
	require.True(t, res.OK)
	require.Equal(t, RoleReplica, c.Servers["r3"].Role)
	require.False(t, c.Servers["r3"].Enabled)
}

func TestRemoveRequiresDisabled(t *testing.T) {
	c := newTestCluster()
	res := c.Remove(context.Background(), "r1")
	require.False(t, res.OK)

	c.Servers["r1"].Enabled = false
	res = c.Remove(context.Background(), "r1")
	require.True(t, res.OK)
	_, exists := c.Servers["r1"]
	require.False(t, exists)
}

func TestAlterServerDefForbidsStatusField(t *testing.T) {
	c := newTestCluster()
	res := c.AlterServerDef(context.Background(), "r1", map[string]interface{}{"status": "down"})
	require.False(t, res.OK)
}

func TestAlterServerDefForbidsRoleFlipWhileEnabled(t *testing.T) {
	c := newTestCluster()
	res := c.AlterServerDef(context.Background(), "r1", map[string]interface{}{"role": "primary"})
	require.False(t, res.OK)
}

func TestAlterServerDefAllowsRoleFlipWhileDisabled(t *testing.T) {
	c := newTestCluster()
	c.Servers["r1"].Enabled = false
	res := c.AlterServerDef(context.Background(), "r1", map[string]interface{}{"role": "primary"})
	require.True(t, res.OK)
	require.Equal(t, RolePrimary, c.Servers["r1"].Role)
}

func TestCloneRefusesPrimary(t *testing.T) {
	c := newTestCluster()
	res := c.Clone(context.Background(), "p1", "r1", false)
	require.False(t, res.OK)
}

func TestEnableRefusesSecondPrimary(t *testing.T) {
	c := newTestCluster()
	c.Servers["r1"].Role = RolePrimary
	res := c.Enable(context.Background(), "r1")
	require.False(t, res.OK)
}

func TestGetStatusCachedDoesNotRunPipeline(t *testing.T) {
	c := newTestCluster()
	status := c.GetStatus(context.Background(), GetStatusCached)
	require.Equal(t, StatusHealthy, status.Status)
}
