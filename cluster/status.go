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

// Status is one of the six recognized server health states. Rank order is
// the sole basis for "worse than" comparisons — never compare the string
// names.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusLagged      Status = "lagged"
	StatusWarning     Status = "warning"
	StatusUnavailable Status = "unavailable"
	StatusDown        Status = "down"
)

var statusRank = map[Status]int{
	StatusUnknown:     0,
	StatusHealthy:     1,
	StatusLagged:      2,
	StatusWarning:     3,
	StatusUnavailable: 4,
	StatusDown:        5,
}

// Rank returns the numeric rank of s. Unrecognized values rank as unknown.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return 0
}

// Role is a server's function within the cluster.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
	RoleProxy   Role = "proxy"
	RoleOther   Role = "other"
)

// isFailureTransition implements the failure predicate: old ∈ {healthy,
// lagged, warning} AND new ∈ {unavailable, down}. unknown is excluded from
// old so an Enable-triggered unknown -> down transition does not fire a
// spurious alert.
func isFailureTransition(old, new Status) bool {
	return old.Rank() >= 1 && old.Rank() <= 3 && new.Rank() >= 4
}

// isRecoveryTransition implements the recovery predicate: old ∈ {warning,
// unavailable, down} AND new ∈ {healthy, lagged}; down additionally
// recovers to warning. unknown is excluded from new so a down -> unknown
// transition does not log a spurious recovery.
func isRecoveryTransition(old, new Status) bool {
	if old.Rank() >= 3 && new.Rank() >= 1 && new.Rank() <= 2 {
		return true
	}
	return old == StatusDown && new == StatusWarning
}
