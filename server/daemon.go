// replication-manager - Replication Manager Monitoring and CLI for MariaDB and MySQL
// Copyright 2017-2021 SIGNAL18 CLOUD SAS
// Author: Guillaume Lefranc <guillaume@signal18.io>
// License: GNU General Public License, version 3. Redistribution/Reuse of this code is permitted under the GNU v3 license, as an additional term ALL code must carry the original Author(s) credit in comment form.
// See LICENSE in this directory for the integral text.

// Package server hosts the top-level daemon: config bootstrap, cluster
// construction, and the tick-driven main loop. The HTTP/RPC surface, the
// CLI and the OpenSVC/graphite/git-sync integrations the teacher's
// ReplicationManager carries are out of scope (see spec Non-goals); this
// type keeps only the bootstrap and scheduling shape, rehomed to HandyRep.
package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/viper"

	"github.com/ubiquitousthey/handyrep/cluster"
	"github.com/ubiquitousthey/handyrep/config"
	"github.com/ubiquitousthey/handyrep/dbclient"
	"github.com/ubiquitousthey/handyrep/plugin"
	"github.com/ubiquitousthey/handyrep/remote"
)

// Daemon is the handyrep control-plane process: it owns one or more named
// clusters (mirroring the teacher's ReplicationManager.Clusters map) and
// drives their tick scheduler.
type Daemon struct {
	UUID    string
	PID     int
	Conf    config.Config
	Clusters map[string]*cluster.Cluster

	logger *logrus.Logger
	exit   bool
	mu     sync.Mutex
}

// NewDaemon builds a Daemon from a merged viper tree, the way the teacher's
// InitConfig/Run sequence does, minus the OpenSVC/graphite/profiling/UI
// bootstrap that has no SPEC_FULL home.
func NewDaemon(v *viper.Viper) (*Daemon, error) {
	conf, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	if conf.Handyrep.LogVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if conf.Handyrep.LogSyslog {
		hook, hookErr := lSyslog.NewSyslogHook("", "", syscall.LOG_INFO, "handyrepd")
		if hookErr == nil {
			logger.AddHook(hook)
		}
	}
	if conf.Handyrep.LogFile != "" {
		f, openErr := os.OpenFile(conf.Handyrep.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if openErr == nil {
			logger.SetOutput(f)
		}
	}

	return &Daemon{
		UUID:     uuid.NewString(),
		PID:      os.Getpid(),
		Conf:     conf,
		Clusters: make(map[string]*cluster.Cluster),
		logger:   logger,
	}, nil
}

// AddCluster constructs and registers a named Cluster, wiring the plugin
// registry, remote executor and database client the daemon shares across
// clusters.
func (d *Daemon) AddCluster(name string, registry *plugin.Registry, exec *remote.Executor, db *dbclient.Client) *cluster.Cluster {
	c := cluster.New(name, d.Conf, registry, d.logger, d.PID)
	c.Remote = exec
	c.DB = db
	d.Clusters[name] = c
	return c
}

// Run is the daemon main loop, mirroring the teacher's Run()'s bootstrap-
// then-sleep-loop shape: reconcile each cluster via its sync engine, then
// repeatedly tick every cluster at its configured poll interval until a
// termination signal arrives.
func (d *Daemon) Run(ctx context.Context, engines map[string]cluster.SyncEngine) error {
	for name, c := range d.Clusters {
		if eng, ok := engines[name]; ok {
			if err := c.Sync(ctx, eng); err != nil {
				d.logger.WithField("cluster", name).WithError(err).Error("startup sync failed")
				return err
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	cycles := make(map[string]int, len(d.Clusters))
	for name := range d.Clusters {
		cycles[name] = 1
	}

	interval := time.Duration(d.Conf.Failover.PollInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			d.logger.WithField("signal", sig.String()).Info("shutting down")
			d.Stop()
			return nil
		case <-ticker.C:
			d.mu.Lock()
			exiting := d.exit
			d.mu.Unlock()
			if exiting {
				return nil
			}
			for name, c := range d.Clusters {
				next, nextCycle := c.Tick(ctx, cycles[name])
				cycles[name] = nextCycle
				if time.Duration(next)*time.Second != interval && next > 0 {
					ticker.Reset(time.Duration(next) * time.Second)
					interval = time.Duration(next) * time.Second
				}
			}
		}
	}
}

// Stop signals Run's loop to exit after the current tick.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exit = true
}
