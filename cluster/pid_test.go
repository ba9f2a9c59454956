package cluster

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsProcessAliveCurrentProcess(t *testing.T) {
	require.True(t, IsProcessAlive(os.Getpid()))
}

func TestIsProcessAliveRejectsNonPositive(t *testing.T) {
	require.False(t, IsProcessAlive(0))
	require.False(t, IsProcessAlive(-1))
}

func TestIsProcessAliveDeadPID(t *testing.T) {
	// PID 1 belongs to init inside any container/namespace this test runs
	// in, and a very large PID is virtually guaranteed unassigned.
	require.False(t, IsProcessAlive(1<<30))
}
