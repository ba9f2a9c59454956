package logring

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := New()
	for i := 0; i < Capacity+10; i++ {
		r.Push(Record{Message: strconv.Itoa(i)})
	}
	require.Equal(t, Capacity, r.Len())
	records := r.Read()
	require.Equal(t, "10", records[0].Message)
	require.Equal(t, strconv.Itoa(Capacity+9), records[len(records)-1].Message)
}

func TestRingReadIsSnapshot(t *testing.T) {
	r := New()
	r.Push(Record{Message: "a"})
	snap := r.Read()
	r.Push(Record{Message: "b"})
	require.Len(t, snap, 1)
	require.Len(t, r.Read(), 2)
}
