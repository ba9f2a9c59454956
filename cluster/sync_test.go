package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFileStore struct {
	snap    Snapshot
	present bool
	saved   []Snapshot
}

func (f *fakeFileStore) Load() (Snapshot, bool, error) { return f.snap, f.present, nil }
func (f *fakeFileStore) Save(snap Snapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

type noDBStore struct{}

func (noDBStore) EnsureSchema(ctx context.Context) error       { return nil }
func (noDBStore) Load(ctx context.Context) (Snapshot, bool, error) { return Snapshot{}, false, nil }
func (noDBStore) Save(ctx context.Context, snap Snapshot) error { return nil }

func TestSyncAppliesFileSnapshotWhenPresent(t *testing.T) {
	c := newTestCluster()
	snap := Snapshot{
		Servers: map[string]*ServerRecord{
			"p1": {Name: "p1", Role: RolePrimary, Enabled: true, Status: StatusWarning, StatusNo: StatusWarning.Rank()},
		},
		Status:    ClusterStatusRecord{Status: StatusWarning, StatusNo: StatusWarning.Rank(), StatusTS: time.Now()},
		PID:       999999,
		UpdatedAt: time.Now(),
	}
	fs := &fakeFileStore{snap: snap, present: true}

	err := c.Sync(context.Background(), SyncEngine{File: fs, DB: noDBStore{}, IsAlive: func(pid int) bool { return false }})
	require.NoError(t, err)
	require.Equal(t, StatusWarning, c.Servers["p1"].Status)
	require.Len(t, fs.saved, 1)
}

func TestSyncAbortsOnLivePIDConflict(t *testing.T) {
	c := newTestCluster()
	snap := Snapshot{
		Servers:   map[string]*ServerRecord{},
		PID:       42,
		UpdatedAt: time.Now(),
	}
	fs := &fakeFileStore{snap: snap, present: true}

	err := c.Sync(context.Background(), SyncEngine{File: fs, DB: noDBStore{}, IsAlive: func(pid int) bool { return pid == 42 }})
	require.Error(t, err)
}

func TestSyncStartsFromConfigWhenNoStoresPresent(t *testing.T) {
	c := newTestCluster()
	fs := &fakeFileStore{present: false}
	err := c.Sync(context.Background(), SyncEngine{File: fs, DB: noDBStore{}})
	require.NoError(t, err)
	require.Equal(t, StatusHealthy, c.Servers["p1"].Status)
}
