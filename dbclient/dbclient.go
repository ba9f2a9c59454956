// Package dbclient implements the Database Client component: connect and
// query helpers bound to a named PostgreSQL server, including the
// primary-only guard and the best-effort multi-server connect. Grounded on the teacher's cluster/prx.go *sqlx.DB usage,
// adapted from MariaDB to PostgreSQL via pgx/v5/stdlib, and on the
// original's connection()/master_connection()/best_connection() in
// handyrep.py.
package dbclient

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Endpoint names one server's connection parameters.
type Endpoint struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (e Endpoint) dsn() string {
	sslmode := e.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		e.Host, e.Port, e.User, e.Password, e.Database, sslmode)
}

// ErrIsReplica is returned by PrimaryConnect when the target reports it is
// in recovery (i.e. is actually a replica).
type ErrIsReplica struct{ Server string }

func (e *ErrIsReplica) Error() string {
	return fmt.Sprintf("server %s is a replica, refusing primary-only connection", e.Server)
}

// Dialer opens *sqlx.DB handles; tests substitute a fake.
type Dialer func(ctx context.Context, driver, dsn string) (*sqlx.DB, error)

// DefaultDialer opens a real pgx-backed connection and pings it.
func DefaultDialer(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Client connects to configured endpoints over PostgreSQL.
type Client struct {
	dial Dialer
}

// New returns a Client using dialer, or DefaultDialer when nil.
func New(dialer Dialer) *Client {
	if dialer == nil {
		dialer = DefaultDialer
	}
	return &Client{dial: dialer}
}

// Connect opens a connection to ep using stored credentials. No role check
// is performed.
func (c *Client) Connect(ctx context.Context, ep Endpoint) (*sqlx.DB, error) {
	return c.dial(ctx, "pgx", ep.dsn())
}

// IsReplica probes whether db is currently in recovery (i.e. a replica).
func (c *Client) IsReplica(ctx context.Context, db *sqlx.DB) (bool, error) {
	var inRecovery bool
	if err := db.QueryRowContext(ctx, "select pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return false, err
	}
	return inRecovery, nil
}

// PrimaryConnect opens a connection to ep and fails with *ErrIsReplica if
// the target is in recovery, protecting write paths from targeting a
// replica by mistake.
func (c *Client) PrimaryConnect(ctx context.Context, ep Endpoint) (*sqlx.DB, error) {
	db, err := c.Connect(ctx, ep)
	if err != nil {
		return nil, err
	}
	isReplica, err := c.IsReplica(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if isReplica {
		db.Close()
		return nil, &ErrIsReplica{Server: ep.Name}
	}
	return db, nil
}

// BestConnect tries primary first, then each of others in order, returning
// the first reachable connection. It fails only if none is reachable.
func (c *Client) BestConnect(ctx context.Context, primary Endpoint, others []Endpoint) (*sqlx.DB, Endpoint, error) {
	if db, err := c.Connect(ctx, primary); err == nil {
		return db, primary, nil
	}
	var lastErr error
	for _, ep := range others {
		db, err := c.Connect(ctx, ep)
		if err == nil {
			return db, ep, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no servers configured")
	}
	return nil, Endpoint{}, fmt.Errorf("no reachable server: %w", lastErr)
}

// AdhocConnect validates a candidate server definition (e.g. for
// add_server/alter_server_def) before it is merged into configuration,
// supplementing the spec's documented operations with the original's
// adhoc_connection/validate_server_settings behavior.
func (c *Client) AdhocConnect(ctx context.Context, ep Endpoint) error {
	db, err := c.Connect(ctx, ep)
	if err != nil {
		return fmt.Errorf("validation connect to %s failed: %w", ep.Name, err)
	}
	defer db.Close()
	return nil
}
