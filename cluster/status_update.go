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

package cluster

import (
	"context"
	"fmt"

	"github.com/ubiquitousthey/handyrep/plugin"
)

const capAlert = plugin.CapAlert

// StatusUpdate is the only permitted mutator of a server's status (§4.4).
// It always touches status_ts, even when the status itself is unchanged,
// logs transitions, fires a failure alert or logs a recovery, recomputes the
// cluster-wide aggregate, and persists the result through the
// last-wired SyncEngine — step 7 of §4.4, "RECOMPUTE, PERSIST".
func (c *Cluster) StatusUpdate(name string, newStatus Status, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.Servers[name]
	if !ok {
		return newError(KindHandyrep, "ERR00019", nil, name)
	}

	old := server.Status
	if old == newStatus {
		server.StatusTS = serverNow()
		c.persistLocked(context.Background())
		return nil
	}

	c.log(name, fmt.Sprintf("%s -> %s: %s", old, newStatus, message), false, false)

	if isFailureTransition(old, newStatus) {
		c.fireAlert("FAILURE", fmt.Sprintf("server %s failed: %s -> %s (%s)", name, old, newStatus, message))
	} else if isRecoveryTransition(old, newStatus) {
		c.log("RECOVERY", fmt.Sprintf("server %s recovered: %s -> %s", name, old, newStatus), false, false)
	}

	server.setStatus(newStatus, message)

	oldClusterRank := c.Status.StatusNo
	c.recomputeClusterStatusLocked()
	if c.Status.StatusNo > oldClusterRank {
		if c.Status.Status == StatusDown {
			c.fireAlert("CLUSTER_DOWN", c.Status.StatusMessage)
		} else {
			c.log("STATUS_WARNING", c.Status.StatusMessage, false, false)
		}
	} else if c.Status.StatusNo < oldClusterRank {
		c.log("RECOVERY", "cluster status improved to "+string(c.Status.Status), false, false)
	}

	c.persistLocked(context.Background())
	return nil
}

// recomputeClusterStatusLocked must be called with c.mu held.
func (c *Cluster) recomputeClusterStatusLocked() {
	status, msg := computeClusterStatus(c.Servers)
	c.Status.Status = status
	c.Status.StatusNo = status.Rank()
	c.Status.StatusMessage = msg
	c.Status.StatusTS = serverNow()
}

// ClusterStatus returns a snapshot of the current cluster-wide aggregate.
func (c *Cluster) ClusterStatus() ClusterStatusRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status
}

// fireAlert dispatches to the alerting plugin (CapAlert) and logs the
// record regardless of plugin outcome, per §7: alert-plugin failure must
// not suppress the log.
func (c *Cluster) fireAlert(category, message string) {
	c.log(category, message, true, true)
	if c.Plugins == nil {
		return
	}
	alertName, _ := c.Conf.GetSetting("handyrep.push_alert_method")
	name, _ := alertName.(string)
	if name == "" {
		name = "default"
	}
	p := c.Plugins.Get(name, capAlert)
	res := p.Run(context.Background(), category, message)
	if !res.OK {
		c.log("ALERT", "alert dispatch failed: "+res.Details, true, false)
	}
}
