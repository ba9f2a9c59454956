package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPgBouncerRunSucceedsWhenAllProxiesHaveHosts(t *testing.T) {
	p := NewPgBouncer([]PgBouncerConfig{
		{Name: "proxy1", Host: "proxy1.internal"},
		{Name: "proxy2", Host: "proxy2.internal"},
	})
	res := p.Run(context.Background(), "r1")
	require.True(t, res.OK)
}

func TestPgBouncerRunFailsOnMissingHost(t *testing.T) {
	p := NewPgBouncer([]PgBouncerConfig{{Name: "proxy1"}})
	res := p.Run(context.Background(), "r1")
	require.False(t, res.OK)
}

func TestPgBouncerRunRequiresNewPrimaryArg(t *testing.T) {
	p := NewPgBouncer(nil)
	res := p.Run(context.Background())
	require.False(t, res.OK)
}
