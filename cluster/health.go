// replication-manager - Replication Manager Monitoring and CLI for MariaDB and MySQL
// Copyright 2017-2021 SIGNAL18 CLOUD SAS
// Authors: Guillaume Lefranc <guillaume@signal18.io>
//
//	Stephane Varoqui  <svaroqui@gmail.com>
//
// This source code is licensed under the GNU General Public License, version 3.
// Redistribution/Reuse of this code is permitted under the GNU v3 license, as
// an additional term, ALL code must carry the original Author(s) credit in comment form.
// See LICENSE in this directory for the integral text.

// Health Pipeline: poll (cheap, probe-only) and verify (deep, SSH+DB+
// replication-lag) tiers, both funneling through StatusUpdate. Grounded on
// handyrep.py's verify_servers/verify_master/verify_replica/verify_all.
package cluster

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ubiquitousthey/handyrep/plugin"
)

// Poll runs the cheap probe plugin against every enabled server. On
// success, an unknown/unavailable/down server is promoted to healthy;
// otherwise its status is preserved and only its timestamp refreshes. On
// failure, a replica goes unavailable, and the primary goes down if it is
// also unreachable via SSH.
func (c *Cluster) Poll(ctx context.Context) {
	c.mu.Lock()
	names := make([]string, 0, len(c.Servers))
	for name, s := range c.Servers {
		if s.Enabled {
			names = append(names, name)
		}
	}
	c.mu.Unlock()

	for _, name := range names {
		c.pollOne(ctx, name)
	}
}

func (c *Cluster) pollOne(ctx context.Context, name string) {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	probeName := c.Conf.Failover.PollMethod
	current := rec.Status
	c.mu.Unlock()

	probe := c.Plugins.Get(probeName, plugin.CapProbe)
	res := probe.Run(ctx, name)
	if res.OK {
		if current.Rank() == StatusUnknown.Rank() || current.Rank() >= 4 {
			c.StatusUpdate(name, StatusHealthy, "poll ok")
		} else {
			c.StatusUpdate(name, current, "poll ok")
		}
		return
	}

	c.mu.Lock()
	snap := *rec
	c.mu.Unlock()
	if snap.Role == RolePrimary {
		sshRes := c.Remote.RunAs(ctx, snap.Hostname, snap.SSHUser, snap.SSHKey, "true")
		if !sshRes.OK {
			c.StatusUpdate(name, StatusDown, "poll failed and ssh unreachable: "+res.Details)
			return
		}
	}
	c.StatusUpdate(name, StatusUnavailable, "poll failed: "+res.Details)
}

// VerifyResult is the outcome of verify_all.
type VerifyResult struct {
	OK         bool
	FailoverOK bool
}

// VerifyAll runs the primary verification serially first (so replicas are
// not mis-classified while the primary's true state is unknown), fans
// replica and proxy verification out concurrently via errgroup, then runs
// archive housekeeping (poll + cleanup) last.
func (c *Cluster) VerifyAll(ctx context.Context) VerifyResult {
	c.mu.Lock()
	var primary *ServerRecord
	primaryCount := 0
	var replicaNames, proxyNames []string
	for name, s := range c.Servers {
		if !s.Enabled {
			continue
		}
		switch s.Role {
		case RolePrimary:
			primaryCount++
			primary = s
		case RoleReplica:
			replicaNames = append(replicaNames, name)
		case RoleProxy:
			proxyNames = append(proxyNames, name)
		}
	}
	c.mu.Unlock()

	if primaryCount != 1 {
		c.fireAlert("FAILURE", "expected exactly one enabled primary")
		return VerifyResult{OK: false, FailoverOK: false}
	}

	primaryDown := c.verifyPrimary(ctx, primary.Name)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range replicaNames {
		name := name
		g.Go(func() error {
			c.verifyReplica(gctx, name, primaryDown)
			return nil
		})
	}
	for _, name := range proxyNames {
		name := name
		g.Go(func() error {
			c.verifyProxy(gctx, name)
			return nil
		})
	}
	g.Wait()

	if c.Conf.Archive.Archiving {
		c.PollArchiving(ctx)
		c.CleanupArchive(ctx)
	}

	healthyReplicas := 0
	c.mu.Lock()
	for _, name := range replicaNames {
		if s, ok := c.Servers[name]; ok && s.Status.Rank() <= 2 {
			healthyReplicas++
		}
	}
	c.mu.Unlock()

	return VerifyResult{
		OK:         !primaryDown,
		FailoverOK: primaryCount == 1 && healthyReplicas >= 1,
	}
}

// verifyPrimary implements §4.6's primary branch and returns whether the
// primary was found down.
func (c *Cluster) verifyPrimary(ctx context.Context, name string) bool {
	c.mu.Lock()
	rec := *c.Servers[name]
	c.mu.Unlock()

	sshRes := c.Remote.RunAs(ctx, rec.Hostname, rec.SSHUser, rec.SSHKey, "true")
	dbDB, dbErr := c.DB.Connect(ctx, c.endpointFor(&rec))

	if !sshRes.OK && dbErr != nil {
		c.StatusUpdate(name, StatusUnavailable, "ssh and db both unreachable")
		return true
	}
	if sshRes.OK && dbErr != nil {
		// ssh ok, db fails -> poll fallback
		probe := c.Plugins.Get(c.Conf.Failover.PollMethod, plugin.CapProbe)
		pollRes := probe.Run(ctx, name)
		if pollRes.OK {
			c.StatusUpdate(name, StatusWarning, "running but unreachable")
			return false
		}
		svc := c.Plugins.Get(rec.RestartMethod, plugin.CapService)
		statusRes := svc.Run(ctx, name, "status")
		if statusRes.OK {
			c.StatusUpdate(name, StatusWarning, "service up but db unreachable")
			return false
		}
		c.StatusUpdate(name, StatusDown, "service down")
		return true
	}
	defer dbDB.Close()

	if _, err := dbDB.ExecContext(ctx, "CREATE TEMP TABLE handyrep_write_test(id int)"); err != nil {
		c.StatusUpdate(name, StatusDown, "writes frozen")
		return true
	}
	c.StatusUpdate(name, StatusHealthy, "")
	return false
}

// verifyReplica implements §4.6's replica branch; when the primary is known
// down, replication-status errors are suppressed and the prior status is
// kept rather than degraded (per the "boundary behaviors" property).
func (c *Cluster) verifyReplica(ctx context.Context, name string, primaryDown bool) {
	c.mu.Lock()
	rec := *c.Servers[name]
	c.mu.Unlock()

	sshRes := c.Remote.RunAs(ctx, rec.Hostname, rec.SSHUser, rec.SSHKey, "true")
	dbDB, dbErr := c.DB.Connect(ctx, c.endpointFor(&rec))
	if !sshRes.OK || dbErr != nil {
		c.StatusUpdate(name, StatusUnavailable, "ssh or db unreachable")
		return
	}
	defer dbDB.Close()

	replStatus := c.Plugins.Get(c.Conf.Failover.ReplicationStatusMethod, plugin.CapReplicationStatus)
	res := replStatus.Run(ctx, name)
	if !res.OK {
		if primaryDown {
			c.log(name, "suppressing replication-status error: primary is down", false, false)
			return
		}
		c.StatusUpdate(name, StatusUnavailable, "not replicating")
		return
	}

	replicating, _ := res.Extra["replicating"].(bool)
	lag, _ := res.Extra["lag"].(int64)
	if !replicating {
		if primaryDown {
			c.log(name, "suppressing replication-status error: primary is down", false, false)
			return
		}
		c.StatusUpdate(name, StatusUnavailable, "not replicating")
		return
	}
	if rec.LagLimit > 0 && lag > rec.LagLimit {
		c.StatusUpdate(name, StatusLagged, "replication lag exceeds limit")
		return
	}
	c.StatusUpdate(name, StatusHealthy, "")
}

// verifyProxy delegates to the connection-failover plugin's poll.
func (c *Cluster) verifyProxy(ctx context.Context, name string) {
	method := c.Conf.Failover.ConnectionFailoverMethod
	p := c.Plugins.Get(method, plugin.CapConnectionFailover)
	poller, ok := p.(plugin.Poller)
	if !ok {
		c.StatusUpdate(name, StatusUnavailable, "connection-failover plugin has no poll")
		return
	}
	res := poller.Poll(ctx, name)
	if res.OK {
		c.StatusUpdate(name, StatusHealthy, "")
	} else {
		c.StatusUpdate(name, StatusUnavailable, res.Details)
	}
}
