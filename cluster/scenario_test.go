package cluster

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ubiquitousthey/handyrep/dbclient"
	"github.com/ubiquitousthey/handyrep/plugin"
)

// fakePlugin is a minimal stand-in the scenario tests register for the
// capabilities the failover path dispatches to.
type fakePlugin struct {
	name string
	cap  plugin.Capability
	ok   bool
}

func (p *fakePlugin) Name() string                 { return p.name }
func (p *fakePlugin) Capability() plugin.Capability { return p.cap }
func (p *fakePlugin) Run(ctx context.Context, args ...interface{}) plugin.Result {
	if p.ok {
		return plugin.Succeeded("ok")
	}
	return plugin.Failed("forced failure")
}
func (p *fakePlugin) Stop(ctx context.Context, target string) plugin.Result {
	return p.Run(ctx)
}
func (p *fakePlugin) Start(ctx context.Context, target string) plugin.Result {
	return p.Run(ctx)
}

// TestScenarioPrimaryDownAutoFailover implements §8 end-to-end scenario 1:
// primary down, two healthy replicas. The selection plugin fails, so the
// default priority order yields [r1, r2]; fencing fails (the service plugin
// cannot stop p1 and p1's database is still reachable), but
// connection_failover lets failover continue; promotion of r1 and the
// connection rewrite succeed.
func TestScenarioPrimaryDownAutoFailover(t *testing.T) {
	c := newTestCluster()
	c.Servers["p1"].Status = StatusDown
	c.Servers["p1"].StatusNo = StatusDown.Rank()
	c.Servers["r1"].FailoverPriority = 1
	r2 := NewServerRecord("r2")
	r2.Role = RoleReplica
	r2.Enabled = true
	r2.Status = StatusHealthy
	r2.FailoverPriority = 2
	c.Servers["r2"] = r2
	c.recomputeClusterStatusLocked()

	c.Conf.Failover.Remaster = false
	c.Conf.Failover.ConnectionFailover = true
	c.Conf.Failover.RecoveryRetries = 1
	c.Conf.Failover.FailRetryInterval = 0

	c.Servers["p1"].Hostname = "p1.internal"
	c.Servers["r1"].Hostname = "r1.internal"
	c.Servers["r2"].Hostname = "r2.internal"

	// Every Connect gets its own mock handle, because checkReplica and
	// promote close the handle they open. Answers are queued per host:
	// r1's checkReplica probe sees "in recovery" (still a standby ->
	// eligible), then promote()'s poll sees "not in recovery" (promoted).
	inRecovery := map[string][]bool{"r1.internal": {true, false}}
	c.DB = dbclient.New(func(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		for host, answers := range inRecovery {
			if strings.Contains(dsn, "host="+host+" ") && len(answers) > 0 {
				mock.ExpectQuery("select pg_is_in_recovery").
					WillReturnRows(sqlmock.NewRows([]string{"pg_is_in_recovery"}).AddRow(answers[0]))
				inRecovery[host] = answers[1:]
			}
		}
		return sqlx.NewDb(db, "pgx"), nil
	})

	c.Plugins.RegisterBuiltin(plugin.CapService, &fakePlugin{name: "svc", cap: plugin.CapService, ok: false})
	c.Plugins.RegisterBuiltin(plugin.CapPromotion, &fakePlugin{name: "promote", cap: plugin.CapPromotion, ok: true})
	c.Plugins.RegisterBuiltin(plugin.CapConnectionFailover, &fakePlugin{name: "conn", cap: plugin.CapConnectionFailover, ok: true})
	c.Plugins.RegisterBuiltin(plugin.CapSelection, &fakePlugin{name: "select", cap: plugin.CapSelection, ok: false})

	outcome := c.runFailover(context.Background(), "p1", "")

	require.True(t, outcome.Attempted)
	require.False(t, outcome.Aborted)
	require.Equal(t, "r1", outcome.Promoted)
	require.Equal(t, RolePrimary, c.Servers["r1"].Role)
	require.True(t, c.Servers["r1"].Enabled)
	require.False(t, c.Servers["p1"].Enabled)
}
