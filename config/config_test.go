package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestGetSettingBlocksPasswords(t *testing.T) {
	c := Config{Passwords: PasswordsSection{ReplicationPass: "secret"}}
	_, ok := c.GetSetting("passwords.replication_pass")
	require.False(t, ok)
}

func TestGetSettingResolvesKnownPaths(t *testing.T) {
	c := Config{Failover: FailoverSection{PollMethod: "pg_isready"}}
	v, ok := c.GetSetting("failover.poll_method")
	require.True(t, ok)
	require.Equal(t, "pg_isready", v)
}

func TestFromViperAppliesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("handyrep.handyrep_db", "handyrep")
	c, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, "handyrep", c.Handyrep.HandyrepSchema)
	require.Equal(t, 10, c.Failover.PollInterval)
}

func TestTableName(t *testing.T) {
	c := Config{Handyrep: HandyrepSection{HandyrepSchema: "hr", HandyrepTable: "state"}}
	require.Equal(t, `"hr"."state"`, c.TableName())
}
