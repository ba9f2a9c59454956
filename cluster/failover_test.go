package cluster

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ubiquitousthey/handyrep/dbclient"
)

func TestDefaultCandidateOrderByPriorityThenName(t *testing.T) {
	c := newTestCluster()
	r2 := NewServerRecord("r2")
	r2.Role = RoleReplica
	r2.Enabled = true
	r2.Status = StatusHealthy
	r2.FailoverPriority = 1
	c.Servers["r2"] = r2
	c.Servers["r1"].FailoverPriority = 2

	order := c.defaultCandidateOrder()
	require.Equal(t, []string{"r2", "r1"}, order)
}

func TestDefaultCandidateOrderExcludesDownReplicas(t *testing.T) {
	c := newTestCluster()
	c.Servers["r1"].Status = StatusDown
	require.Empty(t, c.defaultCandidateOrder())
}

func TestCheckReplicaRequiresInRecovery(t *testing.T) {
	c := newTestCluster()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery("select pg_is_in_recovery").
		WillReturnRows(sqlmock.NewRows([]string{"pg_is_in_recovery"}).AddRow(false))
	c.DB = dbclient.New(func(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "pgx"), nil
	})

	require.False(t, c.checkReplica(context.Background(), "r1"))
}

func TestCheckReplicaAcceptsInRecovery(t *testing.T) {
	c := newTestCluster()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery("select pg_is_in_recovery").
		WillReturnRows(sqlmock.NewRows([]string{"pg_is_in_recovery"}).AddRow(true))
	c.DB = dbclient.New(func(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "pgx"), nil
	})

	require.True(t, c.checkReplica(context.Background(), "r1"))
}
