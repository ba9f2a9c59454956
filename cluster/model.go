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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ubiquitousthey/handyrep/config"
	"github.com/ubiquitousthey/handyrep/dbclient"
	"github.com/ubiquitousthey/handyrep/logring"
	"github.com/ubiquitousthey/handyrep/plugin"
	"github.com/ubiquitousthey/handyrep/remote"
)

// ServerRecord is one configured node: primary, replica, proxy or other.
type ServerRecord struct {
	Name             string
	Role             Role
	Enabled          bool
	Hostname         string
	Port             int
	SSHUser          string
	SSHKey           string
	DBUser           string
	DBPass           string
	Status           Status
	StatusNo         int
	StatusMessage    string
	StatusTS         time.Time
	FailoverPriority int
	LagLimit         int64
	LagBytes         int64

	RestartMethod    string
	PromotionMethod  string
	CloneMethod      string
	RecoveryTemplate string
}

// serverNow is indirected so tests can control monotonic-timestamp
// assertions without sleeping.
var serverNow = time.Now

// NewServerRecord builds a record with the defaults add_server uses:
// disabled, role=replica, unknown status, priority 999.
func NewServerRecord(name string) *ServerRecord {
	return &ServerRecord{
		Name:             name,
		Role:             RoleReplica,
		Enabled:          false,
		Status:           StatusUnknown,
		StatusNo:         StatusUnknown.Rank(),
		StatusTS:         serverNow(),
		FailoverPriority: 999,
	}
}

// setStatus writes status/statusNo/statusTS together, enforcing the
// status_no == rank(status) invariant on every write.
func (s *ServerRecord) setStatus(newStatus Status, message string) {
	s.Status = newStatus
	s.StatusNo = newStatus.Rank()
	s.StatusTS = serverNow()
	if message != "" {
		s.StatusMessage = message
	}
}

// ClusterStatusRecord is the cluster-wide aggregate, per §3.
type ClusterStatusRecord struct {
	Status        Status
	StatusNo      int
	StatusTS      time.Time
	StatusMessage string
	PID           int
}

// Cluster owns the in-memory server map and mediates every mutation through
// StatusUpdate, per the single-owning-controller design.
type Cluster struct {
	mu sync.Mutex

	Name    string
	Conf    config.Config
	Servers map[string]*ServerRecord
	Status  ClusterStatusRecord

	Plugins *plugin.Registry
	Log     *logring.Ring
	logger  *logrus.Entry

	DB     *dbclient.Client
	Remote *remote.Executor

	pid    int
	engine SyncEngine
}

// New constructs an empty Cluster ready for config sync to populate.
func New(name string, conf config.Config, registry *plugin.Registry, base *logrus.Logger, pid int) *Cluster {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Cluster{
		Name:    name,
		Conf:    conf,
		Servers: make(map[string]*ServerRecord),
		Status:  ClusterStatusRecord{Status: StatusUnknown, StatusNo: StatusUnknown.Rank(), StatusTS: time.Now(), PID: pid},
		Plugins: registry,
		Log:     logring.New(),
		logger:  base.WithField("cluster", name),
		pid:     pid,
	}
}

func (c *Cluster) log(category, message string, isError, alert bool) {
	c.Log.Push(logring.Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Category:  category,
		Message:   message,
		IsError:   isError,
		Alert:     alert,
	})
	if isError {
		c.logger.WithField("category", category).Error(message)
	} else {
		c.logger.WithField("category", category).Info(message)
	}
}

// primaries returns all enabled servers currently in the primary role.
func (c *Cluster) primaries() []*ServerRecord {
	var out []*ServerRecord
	for _, s := range c.Servers {
		if s.Role == RolePrimary && s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// replicas returns all enabled replicas.
func (c *Cluster) replicas() []*ServerRecord {
	var out []*ServerRecord
	for _, s := range c.Servers {
		if s.Role == RoleReplica && s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// endpointFor projects a server record into a dbclient.Endpoint.
func (c *Cluster) endpointFor(s *ServerRecord) dbclient.Endpoint {
	return dbclient.Endpoint{
		Name:     s.Name,
		Host:     s.Hostname,
		Port:     s.Port,
		User:     s.DBUser,
		Password: s.DBPass,
		Database: c.Conf.Handyrep.HandyrepDB,
	}
}

// computeClusterStatus is the pure derivation from §3: no mutation, no I/O.
func computeClusterStatus(servers map[string]*ServerRecord) (Status, string) {
	var primary *ServerRecord
	primaryCount := 0
	for _, s := range servers {
		if s.Role == RolePrimary && s.Enabled {
			primaryCount++
			primary = s
		}
	}
	if primaryCount == 0 {
		return StatusDown, "no enabled primary"
	}
	if primaryCount > 1 {
		return StatusDown, "multiple enabled primaries"
	}
	if primary.Status.Rank() > 3 {
		return StatusDown, "primary " + primary.Name + " is down"
	}
	if primary.Status.Rank() >= 2 {
		return StatusWarning, "primary " + primary.Name + " has one or more issues"
	}

	count := 0
	anyBad := false
	for _, s := range servers {
		if s.Role != RoleReplica || !s.Enabled {
			continue
		}
		count++
		if s.Status.Rank() > 3 {
			anyBad = true
		}
	}
	if anyBad || count == 0 {
		return StatusWarning, "no healthy replica available"
	}
	return StatusHealthy, ""
}
