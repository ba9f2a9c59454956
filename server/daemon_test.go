package server

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ubiquitousthey/handyrep/plugin"
)

func TestNewDaemonAppliesConfigDefaults(t *testing.T) {
	v := viper.New()
	d, err := NewDaemon(v)
	require.NoError(t, err)
	require.NotEmpty(t, d.UUID)
	require.Equal(t, 10, d.Conf.Failover.PollInterval)
}

func TestAddClusterRegisters(t *testing.T) {
	v := viper.New()
	d, err := NewDaemon(v)
	require.NoError(t, err)
	c := d.AddCluster("prod", plugin.NewRegistry(), nil, nil)
	require.NotNil(t, c)
	require.Same(t, c, d.Clusters["prod"])
}
