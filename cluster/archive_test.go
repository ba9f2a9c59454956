package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubiquitousthey/handyrep/plugin"
)

func TestStartArchivingRefusesWhenNotConfigured(t *testing.T) {
	c := newTestCluster()
	res := c.StartArchiving(context.Background())
	require.False(t, res.OK)
}

func TestStartArchivingInvokesArchivePlugin(t *testing.T) {
	c := newTestCluster()
	c.Conf.Archive.Archiving = true
	c.Conf.Archive.ArchiveScriptMethod = "walarch"
	c.Plugins.Register(&fakePlugin{name: "walarch", cap: plugin.CapArchive, ok: true})

	res := c.StartArchiving(context.Background())
	require.True(t, res.OK)
}

func TestStopArchivingFailsWhenPluginFails(t *testing.T) {
	c := newTestCluster()
	c.Conf.Archive.Archiving = true
	c.Conf.Archive.ArchiveScriptMethod = "walarch"
	c.Plugins.Register(&fakePlugin{name: "walarch", cap: plugin.CapArchive, ok: false})

	res := c.StopArchiving(context.Background())
	require.False(t, res.OK)
}

func TestPollArchivingNoopWhenDisabled(t *testing.T) {
	c := newTestCluster()
	res := c.PollArchiving(context.Background())
	require.True(t, res.OK)
}

func TestCleanupArchiveNoopWithoutDeleteMethod(t *testing.T) {
	c := newTestCluster()
	c.Conf.Archive.Archiving = true
	res := c.CleanupArchive(context.Background())
	require.True(t, res.OK)
}

func TestCleanupArchiveRunsDeleteMethod(t *testing.T) {
	c := newTestCluster()
	c.Conf.Archive.Archiving = true
	c.Conf.Archive.ArchiveDeleteMethod = "waldelete"
	c.Plugins.Register(&fakePlugin{name: "waldelete", cap: plugin.CapArchive, ok: true})

	res := c.CleanupArchive(context.Background())
	require.True(t, res.OK)
}
