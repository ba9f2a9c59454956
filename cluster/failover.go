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

// Failover Orchestrator: the state machine of §4.7, gating and executing
// failover. Grounded on handyrep.py's auto_failover/manual_failover,
// select_new_master, promote, remaster, shutdown_old_master and
// connection_failover, with both REDESIGN FLAGS from §9 applied: rank
// comparison (never string comparison) and "new primary" is always the
// just-promoted candidate variable, threaded through both paths.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/ubiquitousthey/handyrep/plugin"
)

// FailoverOutcome reports what the orchestrator did.
type FailoverOutcome struct {
	Attempted    bool
	Promoted     string
	Aborted      bool
	AbortReason  string
	ClusterState Status
}

// Tick runs one scheduler-driven cycle of the orchestrator per §4.9's
// contract: tick(cycle_num) -> (next_interval, next_cycle). Cycle 1 means
// verify; any other cycle means poll. Success advances the cycle modulo
// verify_frequency; failure resets it to 1.
func (c *Cluster) Tick(ctx context.Context, cycleNum int) (nextInterval, nextCycle int) {
	checkMethod, _ := c.Conf.GetSetting("handyrep.master_check_method")
	methodName, _ := checkMethod.(string)
	leader := c.Plugins.Get(methodName, plugin.CapService)
	leaderRes := leader.Run(ctx, c.Name)
	isLeader, _ := leaderRes.Extra["is_master"].(bool)
	if !leaderRes.OK || !isLeader {
		return c.Conf.Failover.PollInterval, cycleNum
	}

	var result VerifyResult
	if cycleNum == 1 {
		result = c.VerifyAll(ctx)
	} else {
		c.Poll(ctx)
		result = VerifyResult{OK: c.ClusterStatus().Status.Rank() <= 2}
	}

	if !result.OK {
		c.AutoFailover(ctx, result)
		return c.Conf.Failover.PollInterval, 1
	}

	freq := c.Conf.Failover.VerifyFrequency
	if freq <= 0 {
		freq = 1
	}
	return c.Conf.Failover.PollInterval, (cycleNum % freq) + 1
}

// AutoFailover runs the orchestrator state machine automatically, gated by
// auto_failover and failover_ok, per §4.7.
func (c *Cluster) AutoFailover(ctx context.Context, vr VerifyResult) FailoverOutcome {
	primary := c.findDownPrimary()
	if primary == "" {
		return FailoverOutcome{Attempted: false}
	}

	if c.Conf.Failover.RestartMaster {
		if c.restartServer(ctx, primary) {
			return FailoverOutcome{Attempted: true, Aborted: false}
		}
	}

	if !c.Conf.Failover.AutoFailover || !vr.FailoverOK {
		c.log("FAILOVER", "auto_failover disabled or not failover_ok, staying degraded", false, false)
		return FailoverOutcome{Attempted: false, Aborted: true, AbortReason: "auto_failover gate closed"}
	}

	return c.runFailover(ctx, primary, "")
}

// ManualFailover pins candidate (may be empty for auto-selection) and runs
// the same runFailover path as AutoFailover, without the restart_master and
// auto_failover gates. It has no rollback of its own: as in the automatic
// path, the old primary is restarted only when every candidate fails
// promotion.
func (c *Cluster) ManualFailover(ctx context.Context, candidate string) FailoverOutcome {
	primary := c.findEnabledPrimary()
	if primary == "" {
		return FailoverOutcome{Attempted: false, Aborted: true, AbortReason: "no enabled primary"}
	}
	return c.runFailover(ctx, primary, candidate)
}

func (c *Cluster) findDownPrimary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.Servers {
		if s.Role == RolePrimary && s.Enabled && s.Status.Rank() > 3 {
			return name
		}
	}
	return ""
}

func (c *Cluster) findEnabledPrimary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.Servers {
		if s.Role == RolePrimary && s.Enabled {
			return name
		}
	}
	return ""
}

// runFailover executes fencing, candidate selection, promotion, optional
// remaster, connection rewrite and post-hooks. pinned, if non-empty, forces
// a single candidate (manual failover); otherwise the selection plugin
// chooses.
func (c *Cluster) runFailover(ctx context.Context, oldPrimary, pinned string) FailoverOutcome {
	candidates := c.selectCandidates(ctx, pinned)
	if len(candidates) == 0 {
		c.log("FAILOVER", "no candidates available, aborting", true, false)
		return FailoverOutcome{Attempted: true, Aborted: true, AbortReason: "empty candidate list"}
	}

	fenced := c.fenceOldPrimary(ctx, oldPrimary)
	if !fenced {
		if c.Conf.Failover.ConnectionFailover {
			c.log("FAILOVER", "fence failed, isolating old primary via connection rewrite", true, false)
		} else {
			c.log("FAILOVER", "fence failed and connection_failover disabled, aborting", true, false)
			return FailoverOutcome{Attempted: true, Aborted: true, AbortReason: "fence failed"}
		}
	}

	// newPrimary is always the just-promoted candidate, threaded through
	// both the auto and manual paths (§9 open question resolution).
	newPrimary := ""
	for _, cand := range candidates {
		if !c.checkReplica(ctx, cand) {
			continue
		}
		if c.promote(ctx, cand) {
			newPrimary = cand
			break
		}
	}

	if newPrimary == "" {
		c.log("FAILOVER", "all candidates failed promotion", true, false)
		if c.restartServer(ctx, oldPrimary) {
			c.StatusUpdate(oldPrimary, StatusWarning, "restarted after failed failover")
		} else {
			c.StatusUpdate(oldPrimary, StatusDown, "restart failed after failed failover")
		}
		c.fireAlert("FAILURE", "all candidates failed promotion, failover aborted")
		return FailoverOutcome{Attempted: true, Aborted: true, AbortReason: "all candidates failed promotion"}
	}

	c.mu.Lock()
	if old, ok := c.Servers[oldPrimary]; ok {
		old.Role = RoleReplica
		old.Enabled = false
	}
	if np, ok := c.Servers[newPrimary]; ok {
		np.Role = RolePrimary
		np.Enabled = true
	}
	c.mu.Unlock()
	c.StatusUpdate(newPrimary, StatusHealthy, "promoted")

	if c.Conf.Failover.Remaster {
		c.remasterAll(ctx, newPrimary, oldPrimary)
	}

	if !c.rewriteConnections(ctx, newPrimary) {
		c.StatusUpdate(newPrimary, StatusDown, "connection rewrite failed")
		c.fireAlert("FAILURE", "connection rewrite failed after promotion of "+newPrimary)
		return FailoverOutcome{Attempted: true, Promoted: newPrimary, Aborted: true, AbortReason: "connection rewrite failed"}
	}

	c.runPostFailoverHooks(ctx, newPrimary, oldPrimary)

	// Terminal "RECOMPUTE STATUS, PERSIST, IDLE" step of §4.7: the role
	// swap above is written directly to the server records rather than
	// through StatusUpdate, so it needs its own persist here.
	c.persist(ctx)

	return FailoverOutcome{Attempted: true, Promoted: newPrimary, ClusterState: c.ClusterStatus().Status}
}

// selectCandidates delegates ordering to the selection plugin unless a
// candidate is pinned (manual failover).
func (c *Cluster) selectCandidates(ctx context.Context, pinned string) []string {
	if pinned != "" {
		return []string{pinned}
	}
	sel := c.Plugins.Get(c.Conf.Failover.SelectionMethod, plugin.CapSelection)
	res := sel.Run(ctx, c.Name)
	if !res.OK {
		return c.defaultCandidateOrder()
	}
	ordered, ok := res.Extra["candidates"].([]string)
	if !ok || len(ordered) == 0 {
		return c.defaultCandidateOrder()
	}
	return ordered
}

// defaultCandidateOrder ranks enabled replicas whose status is unknown,
// healthy or lagged by priority then name, matching the selection plugin's
// documented tie-break.
func (c *Cluster) defaultCandidateOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	type cand struct {
		name     string
		priority int
	}
	var cands []cand
	for name, s := range c.Servers {
		if s.Role == RoleReplica && s.Enabled && s.Status.Rank() <= 2 {
			cands = append(cands, cand{name, s.FailoverPriority})
		}
	}
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if cands[j].priority < cands[i].priority ||
				(cands[j].priority == cands[i].priority && cands[j].name < cands[i].name) {
				cands[i], cands[j] = cands[j], cands[i]
			}
		}
	}
	names := make([]string, len(cands))
	for i, cd := range cands {
		names[i] = cd.name
	}
	return names
}

// checkReplica re-probes a candidate before promotion: service up, DB
// reachable, is-in-recovery=true.
func (c *Cluster) checkReplica(ctx context.Context, name string) bool {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	db, err := c.DB.Connect(ctx, c.endpointFor(&snap))
	if err != nil {
		c.log(name, "candidate probe failed: db unreachable", true, false)
		return false
	}
	defer db.Close()
	isReplica, err := c.DB.IsReplica(ctx, db)
	if err != nil || !isReplica {
		c.log(name, "candidate probe failed: not in recovery", true, false)
		return false
	}
	return true
}

// fenceOldPrimary attempts graceful shutdown; if unreachable, it checks
// whether the node is actually already gone.
func (c *Cluster) fenceOldPrimary(ctx context.Context, name string) bool {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	svc := c.Plugins.Get(snap.RestartMethod, plugin.CapService)
	var stopRes plugin.Result
	if controller, ok := svc.(plugin.ServiceController); ok {
		stopRes = controller.Stop(ctx, name)
	} else {
		stopRes = svc.Run(ctx, name, "stop")
	}
	if stopRes.OK {
		return true
	}
	if _, err := c.DB.Connect(ctx, c.endpointFor(&snap)); err != nil {
		// unreachable both ways; treat as already down, fencing succeeded.
		return true
	}
	// reachable but refuses to stop: contradiction, fencing fails.
	return false
}

// promote calls the promotion plugin then polls the candidate for
// recovery-exit up to recovery_retries times.
func (c *Cluster) promote(ctx context.Context, name string) bool {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	promoter := c.Plugins.Get(snap.PromotionMethod, plugin.CapPromotion)
	res := promoter.Run(ctx, name)
	if !res.OK {
		return false
	}

	retries := c.Conf.Failover.RecoveryRetries
	interval := time.Duration(c.Conf.Failover.FailRetryInterval) * time.Second
	for i := 0; i < retries; i++ {
		db, err := c.DB.Connect(ctx, c.endpointFor(&snap))
		if err == nil {
			isReplica, ierr := c.DB.IsReplica(ctx, db)
			db.Close()
			if ierr == nil && !isReplica {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return false
}

// remasterAll reconfigures remaining replicas (other than the old and new
// primary) to stream from newPrimary.
func (c *Cluster) remasterAll(ctx context.Context, newPrimary, oldPrimary string) {
	c.mu.Lock()
	var targets []string
	for name, s := range c.Servers {
		if s.Role == RoleReplica && s.Enabled && name != oldPrimary {
			targets = append(targets, name)
		}
	}
	c.mu.Unlock()

	for _, name := range targets {
		c.remasterOne(ctx, name, newPrimary)
	}
}

func (c *Cluster) remasterOne(ctx context.Context, name, newPrimary string) {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	res := c.Remote.RunAs(ctx, snap.Hostname, snap.SSHUser, snap.SSHKey,
		fmt.Sprintf("handyrep-remaster --primary=%s", newPrimary))
	if !res.OK {
		c.log(name, "remaster failed: "+res.Message, true, false)
		c.StatusUpdate(name, StatusWarning, "remaster failed")
		return
	}
	c.log(name, "remastered to "+newPrimary, false, false)
}

func (c *Cluster) rewriteConnections(ctx context.Context, newPrimary string) bool {
	if !c.Conf.Failover.ConnectionFailover {
		return true
	}
	p := c.Plugins.Get(c.Conf.Failover.ConnectionFailoverMethod, plugin.CapConnectionFailover)
	res := p.Run(ctx, newPrimary)
	return res.OK
}

func (c *Cluster) runPostFailoverHooks(ctx context.Context, newPrimary, oldPrimary string) {
	for label, cmd := range c.Conf.ExtraFailoverCommands {
		p := c.Plugins.Get(cmd.Command, plugin.CapService)
		args := make([]interface{}, 0, len(cmd.Parameters)+2)
		args = append(args, newPrimary, oldPrimary)
		for _, a := range cmd.Parameters {
			args = append(args, a)
		}
		res := p.Run(ctx, args...)
		if !res.OK {
			c.log("FAILOVER", fmt.Sprintf("post-failover hook %s failed: %s", label, res.Details), true, false)
		}
	}
}

func (c *Cluster) restartServer(ctx context.Context, name string) bool {
	c.mu.Lock()
	rec, ok := c.Servers[name]
	var snap ServerRecord
	if ok {
		snap = *rec
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	svc := c.Plugins.Get(snap.RestartMethod, plugin.CapService)
	res := svc.Run(ctx, name, "restart")
	return res.OK
}
