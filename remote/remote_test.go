package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestRunAsSurfacesDialFailure(t *testing.T) {
	e := New(nil)
	e.dial = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, assertErr("connection refused")
	}
	res := e.RunAs(context.Background(), "db1.internal", "postgres", "", "true")
	require.False(t, res.OK)
	require.Contains(t, res.Message, "db1.internal")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
