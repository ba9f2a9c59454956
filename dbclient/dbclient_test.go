package dbclient

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDialer(t *testing.T, inRecovery bool) (Dialer, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectQuery("select pg_is_in_recovery").
		WillReturnRows(sqlmock.NewRows([]string{"pg_is_in_recovery"}).AddRow(inRecovery))
	return func(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "pgx"), nil
	}, mock
}

func TestPrimaryConnectRefusesReplica(t *testing.T) {
	dial, _ := newMockDialer(t, true)
	c := New(dial)
	_, err := c.PrimaryConnect(context.Background(), Endpoint{Name: "r1"})
	require.Error(t, err)
	var replicaErr *ErrIsReplica
	require.ErrorAs(t, err, &replicaErr)
}

func TestPrimaryConnectAcceptsPrimary(t *testing.T) {
	dial, _ := newMockDialer(t, false)
	c := New(dial)
	db, err := c.PrimaryConnect(context.Background(), Endpoint{Name: "p1"})
	require.NoError(t, err)
	require.NotNil(t, db)
}

func TestBestConnectFallsBackToOthers(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
		calls++
		if calls == 1 {
			return nil, assertErr("primary unreachable")
		}
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		return sqlx.NewDb(db, "pgx"), nil
	}
	c := New(dial)
	_, ep, err := c.BestConnect(context.Background(), Endpoint{Name: "p1"}, []Endpoint{{Name: "r1"}})
	require.NoError(t, err)
	require.Equal(t, "r1", ep.Name)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
