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

// Config Sync Engine: three-way reconciliation between the static config
// file, the on-disk JSON snapshot and a row in the primary database,
// grounded on the original handyrep.py __init__/sync_config and on
// check_pid's os.kill(pid, 0) liveness probe.
package cluster

import (
	"context"
	"fmt"
	"time"
)

// FileStore persists the JSON snapshot used by the Config Sync Engine.
type FileStore interface {
	// Load returns the stored snapshot and whether one was present.
	Load() (Snapshot, bool, error)
	// Save writes snap atomically (rename-into-place), matching §5's
	// "file writes are atomic-replace" requirement.
	Save(snap Snapshot) error
}

// DBStore persists the handyrep row in the primary database.
type DBStore interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
}

// ProcessChecker reports whether pid is a live process, distinct from the
// caller's own pid. Grounded on the original's check_pid.
type ProcessChecker func(pid int) bool

// SyncEngine wires the three stores.
type SyncEngine struct {
	File    FileStore
	DB      DBStore
	IsAlive ProcessChecker
}

// source tags which store won reconciliation, for logging/tests.
type source string

const (
	sourceFile   source = "file"
	sourceDB     source = "db"
	sourceConfig source = "config"
)

// Sync runs the startup/explicit-resync reconciliation algorithm from §4.5.
// It mutates c's in-memory state, and may return a fatal error only for a
// PID conflict (the sole fatal runtime case per §7).
func (c *Cluster) Sync(ctx context.Context, eng SyncEngine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remember the engine so every later mutator (StatusUpdate, the
	// failover orchestrator, the operations API) can persist through it
	// too, not just this startup reconciliation.
	c.engine = eng

	overrideFile, _ := c.Conf.GetSetting("handyrep.override_server_file")
	if override, _ := overrideFile.(bool); override {
		c.log("CONFIG", "override_server_file set, using static config as source of truth", false, false)
		return nil // in-memory state is left as the caller seeded it from the static config
	}

	fileSnap, fileOK, fileErr := eng.File.Load()
	if fileErr != nil {
		c.log("FILEERROR", "reading snapshot file failed: "+fileErr.Error(), true, false)
		fileOK = false
	}

	var dbSnap Snapshot
	var dbOK bool
	if eng.DB != nil {
		var dbErr error
		dbSnap, dbOK, dbErr = eng.DB.Load(ctx)
		if dbErr != nil {
			c.log("DATABASE", "reading handyrep row failed: "+dbErr.Error(), true, false)
			dbOK = false
		}
	}

	chosen := sourceConfig
	var winning Snapshot
	switch {
	case fileOK && dbOK:
		if dbSnap.Status.StatusTS.After(fileSnap.Status.StatusTS) {
			chosen, winning = sourceDB, dbSnap
		} else {
			// ties, or file strictly greater, resolve to file per §4.5.
			chosen, winning = sourceFile, fileSnap
		}
	case fileOK:
		chosen, winning = sourceFile, fileSnap
	case dbOK:
		chosen, winning = sourceDB, dbSnap
	}

	if chosen == sourceFile || chosen == sourceDB {
		if eng.IsAlive != nil && winning.PID != 0 && winning.PID != c.pid && eng.IsAlive(winning.PID) {
			return newError(KindStartup, "ERR00010", nil, "pid")
		}
		c.applySnapshotLocked(winning)
		c.log("STARTUP", fmt.Sprintf("reconciled state from %s store", chosen), false, false)
	} else {
		c.log("STARTUP", "no file or db snapshot present, starting from static config", false, false)
	}

	c.mergeServerDefaultsLocked()
	return c.persistLocked(ctx)
}

// persistLocked writes the reconciled state back to file, and to the DB
// when reachable, per §4.5's best-effort write policy, using whichever
// SyncEngine Sync last wired. It is the terminal "persist" step §4.4's
// StatusUpdate and §4.7's runFailover both call. A no-op before Sync has
// run once (c.engine's stores are all nil). Caller holds c.mu.
func (c *Cluster) persistLocked(ctx context.Context) error {
	eng := c.engine
	snap := c.snapshotOf()
	if eng.File != nil {
		if err := eng.File.Save(snap); err != nil {
			c.log("FILEERROR", "writing snapshot file failed: "+err.Error(), true, false)
		}
	}
	if eng.DB != nil && c.hasReachablePrimaryLocked() {
		if err := eng.DB.EnsureSchema(ctx); err != nil {
			c.log("DATABASE", "ensuring handyrep schema failed: "+err.Error(), true, false)
			return nil
		}
		if err := eng.DB.Save(ctx, snap); err != nil {
			c.log("DATABASE", "writing handyrep row failed: "+err.Error(), true, false)
		}
	}
	return nil
}

// persist acquires c.mu before writing, for callers (the failover
// orchestrator, the operations API) that do not already hold the lock at
// their return point.
func (c *Cluster) persist(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked(ctx)
}

func (c *Cluster) hasReachablePrimaryLocked() bool {
	for _, s := range c.Servers {
		if s.Role == RolePrimary && s.Enabled && s.Status.Rank() <= 3 {
			return true
		}
	}
	return false
}

// mergeServerDefaultsLocked applies server_defaults then per-server
// overrides from static config on top of each in-memory record, re-applying
// the live status block last so reconfiguration never clobbers it — the
// intended order per §9's merge_server_settings open question (defaults
// first, overrides last, status preserved).
func (c *Cluster) mergeServerDefaultsLocked() {
	for name, rec := range c.Servers {
		preserved := struct {
			Status   Status
			StatusNo int
			StatusTS time.Time
			Message  string
		}{rec.Status, rec.StatusNo, rec.StatusTS, rec.StatusMessage}

		applySettingsMap(rec, c.Conf.ServerDefaults)
		if override, ok := c.Conf.Servers[name]; ok {
			applySettingsMap(rec, override)
		}

		rec.Status = preserved.Status
		rec.StatusNo = preserved.StatusNo
		rec.StatusTS = preserved.StatusTS
		rec.StatusMessage = preserved.Message
	}
}

func applySettingsMap(rec *ServerRecord, m map[string]interface{}) {
	if m == nil {
		return
	}
	if v, ok := m["hostname"].(string); ok {
		rec.Hostname = v
	}
	if v, ok := m["port"].(int); ok {
		rec.Port = v
	}
	if v, ok := m["ssh_user"].(string); ok {
		rec.SSHUser = v
	}
	if v, ok := m["ssh_key"].(string); ok {
		rec.SSHKey = v
	}
	if v, ok := m["db_user"].(string); ok {
		rec.DBUser = v
	}
	if v, ok := m["failover_priority"].(int); ok {
		rec.FailoverPriority = v
	}
	if v, ok := m["lag_limit"].(int64); ok {
		rec.LagLimit = v
	}
	if v, ok := m["restart_method"].(string); ok {
		rec.RestartMethod = v
	}
	if v, ok := m["promotion_method"].(string); ok {
		rec.PromotionMethod = v
	}
	if v, ok := m["clone_method"].(string); ok {
		rec.CloneMethod = v
	}
	if v, ok := m["recovery_template"].(string); ok {
		rec.RecoveryTemplate = v
	}
}
