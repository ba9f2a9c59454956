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

// Operations API (§4.8): operator-callable actions, each composing the
// components above. Grounded on handyrep.py's add_server/clone/enable/
// disable/remove/alter_server_def/get_status, plus validate_server_settings
// supplemented from the original (dropped by the distilled spec).
package cluster

import (
	"context"

	"github.com/ubiquitousthey/handyrep/plugin"
)

// OpResult is the uniform operator-facing envelope (§4.8/§6).
type OpResult struct {
	OK      bool
	Details string
	Extra   map[string]interface{}
}

func opFail(details string) OpResult { return OpResult{OK: false, Details: details} }
func opOK(details string) OpResult   { return OpResult{OK: true, Details: details} }

// AddServer requires hostname, defaults role=replica and enabled=false,
// merges defaults and supplied props, and persists.
func (c *Cluster) AddServer(ctx context.Context, name string, props map[string]interface{}) OpResult {
	hostname, _ := props["hostname"].(string)
	if hostname == "" {
		return opFail("hostname is required")
	}

	c.mu.Lock()
	if _, exists := c.Servers[name]; exists {
		c.mu.Unlock()
		return opFail("server " + name + " already exists")
	}
	rec := NewServerRecord(name)
	rec.Hostname = hostname
	applySettingsMap(rec, c.Conf.ServerDefaults)
	applySettingsMap(rec, props)
	c.Servers[name] = rec
	c.mu.Unlock()

	c.persist(ctx)
	return opOK("added server " + name)
}

// ValidateServerSettings probes a candidate definition's database
// connectivity. It is a separate call: AddServer and AlterServerDef do not
// run it.
func (c *Cluster) ValidateServerSettings(ctx context.Context, props map[string]interface{}) OpResult {
	tmp := NewServerRecord("__validate__")
	applySettingsMap(tmp, props)
	if tmp.Hostname == "" {
		return opFail("hostname is required")
	}
	if err := c.DB.AdhocConnect(ctx, c.endpointFor(tmp)); err != nil {
		return opFail(err.Error())
	}
	return opOK("candidate server settings validated")
}

// Enable refuses to enable a second primary; after enabling it verifies and
// persists.
func (c *Cluster) Enable(ctx context.Context, name string) OpResult {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	if !ok {
		c.mu.Unlock()
		return opFail("unknown server " + name)
	}
	if rec.Role == RolePrimary {
		for other, s := range c.Servers {
			if other != name && s.Role == RolePrimary && s.Enabled {
				c.mu.Unlock()
				return opFail("another enabled primary already exists: " + other)
			}
		}
	}
	rec.Enabled = true
	role := rec.Role
	c.mu.Unlock()

	c.StatusUpdate(name, StatusUnknown, "enabled, pending verify")
	switch role {
	case RolePrimary:
		c.verifyPrimary(ctx, name)
	case RoleReplica:
		c.verifyReplica(ctx, name, c.findDownPrimary() != "")
	case RoleProxy:
		c.verifyProxy(ctx, name)
	default:
		c.pollOne(ctx, name)
	}
	c.persist(ctx)
	return opOK("enabled " + name)
}

// Disable performs a best-effort shutdown, marks the server disabled, and
// persists.
func (c *Cluster) Disable(ctx context.Context, name string) OpResult {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	c.mu.Unlock()
	if !ok {
		return opFail("unknown server " + name)
	}

	svc := c.Plugins.Get(rec.RestartMethod, plugin.CapService)
	if controller, ok := svc.(plugin.ServiceController); ok {
		res := controller.Stop(ctx, name)
		if !res.OK {
			c.log(name, "disable: best-effort shutdown failed: "+res.Details, true, false)
		}
	}

	c.mu.Lock()
	rec.Enabled = false
	c.mu.Unlock()
	c.persist(ctx)
	return opOK("disabled " + name)
}

// Remove deletes a server record, but only if it is currently disabled.
func (c *Cluster) Remove(ctx context.Context, name string) OpResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.Servers[name]
	if !ok {
		return opFail("unknown server " + name)
	}
	if rec.Enabled {
		return opFail("server " + name + " must be disabled before removal")
	}
	delete(c.Servers, name)
	c.persistLocked(ctx)
	return opOK("removed " + name)
}

// AlterServerDef forbids changing status fields directly and forbids role
// flips between primary/replica while the server is enabled.
func (c *Cluster) AlterServerDef(ctx context.Context, name string, props map[string]interface{}) OpResult {
	if _, has := props["status"]; has {
		return opFail("cannot alter status field directly")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.Servers[name]
	if !ok {
		return opFail("unknown server " + name)
	}
	if newRole, has := props["role"].(string); has {
		if rec.Enabled && Role(newRole) != rec.Role && (rec.Role == RolePrimary || rec.Role == RoleReplica) {
			return opFail("cannot change role of enabled server " + name)
		}
		rec.Role = Role(newRole)
	}
	applySettingsMap(rec, props)
	c.persistLocked(ctx)
	return opOK("altered " + name)
}

// Clone refuses if target is the primary; refuses if target is healthy
// unless reclone is set (then shuts it down first); invokes the clone
// plugin, pushes recovery config, starts the server.
func (c *Cluster) Clone(ctx context.Context, target, from string, reclone bool) OpResult {
	c.mu.Lock()
	rec, ok := c.Servers[target]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return opFail("unknown server " + target)
	}
	if snap.Role == RolePrimary {
		return opFail("cannot clone onto the primary")
	}
	if snap.Enabled && snap.Status.Rank() <= 3 && !reclone {
		return opFail("target is enabled and healthy; set reclone to overwrite")
	}
	if snap.Enabled && reclone {
		c.Disable(ctx, target)
	}

	cloner := c.Plugins.Get(snap.CloneMethod, plugin.CapPromotion)
	res := cloner.Run(ctx, target, from)
	if !res.OK {
		return opFail("clone failed: " + res.Details)
	}

	if liner, ok := cloner.(plugin.RecoveryLiner); ok {
		if _, lineRes := liner.RecoveryLine(ctx, target); !lineRes.OK {
			c.log(target, "clone: pushing recovery config failed: "+lineRes.Details, true, false)
		}
	}

	svc := c.Plugins.Get(snap.RestartMethod, plugin.CapService)
	if controller, ok := svc.(plugin.ServiceController); ok {
		controller.Start(ctx, target)
	}

	c.mu.Lock()
	rec.Enabled = true
	c.mu.Unlock()
	c.StatusUpdate(target, StatusUnknown, "cloned from "+from)
	c.persist(ctx)
	return opOK("cloned " + target + " from " + from)
}

// GetStatusMode selects how much work GetStatus does before returning.
type GetStatusMode string

const (
	GetStatusCached GetStatusMode = "cached"
	GetStatusPoll   GetStatusMode = "poll"
	GetStatusVerify GetStatusMode = "verify"
)

// GetStatus returns the cluster status, optionally running the pipeline
// first.
func (c *Cluster) GetStatus(ctx context.Context, mode GetStatusMode) ClusterStatusRecord {
	switch mode {
	case GetStatusPoll:
		c.Poll(ctx)
	case GetStatusVerify:
		c.VerifyAll(ctx)
	}
	return c.ClusterStatus()
}
