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

import "time"

// Snapshot is the serializable shape written to the on-disk JSON file and
// to the database row (§6 "On-disk snapshot file" / "Database table").
type Snapshot struct {
	Servers   map[string]*ServerRecord `json:"servers"`
	Status    ClusterStatusRecord      `json:"status"`
	PID       int                      `json:"pid"`
	UpdatedAt time.Time                `json:"updated"`
}

// snapshotOf captures the cluster's current in-memory state. Caller must
// hold c.mu.
func (c *Cluster) snapshotOf() Snapshot {
	servers := make(map[string]*ServerRecord, len(c.Servers))
	for k, v := range c.Servers {
		cp := *v
		servers[k] = &cp
	}
	return Snapshot{
		Servers:   servers,
		Status:    c.Status,
		PID:       c.pid,
		UpdatedAt: serverNow(),
	}
}

// applySnapshotLocked replaces in-memory server state from snap. Caller
// must hold c.mu.
func (c *Cluster) applySnapshotLocked(snap Snapshot) {
	c.Servers = make(map[string]*ServerRecord, len(snap.Servers))
	for k, v := range snap.Servers {
		cp := *v
		c.Servers[k] = &cp
	}
	c.Status = snap.Status
}
