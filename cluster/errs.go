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

import "fmt"

// Kind tags a HandyRepError with the category named in the error-handling
// section of the spec: STARTUP, CONFIG, DBCONN, QUERY, HANDYREP, SSH, USER,
// PLUGIN.
type Kind string

const (
	KindStartup  Kind = "STARTUP"
	KindConfig   Kind = "CONFIG"
	KindDBConn   Kind = "DBCONN"
	KindQuery    Kind = "QUERY"
	KindHandyrep Kind = "HANDYREP"
	KindSSH      Kind = "SSH"
	KindUser     Kind = "USER"
	KindPlugin   Kind = "PLUGIN"
)

// HandyRepError is the concrete error type every component returns for a
// classified failure.
type HandyRepError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *HandyRepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

func (e *HandyRepError) Unwrap() error { return e.Err }

// errCatalogue holds parameterized message templates addressed by code,
// mirroring the teacher's clusterError map.
var errCatalogue = map[string]string{
	"ERR00001": "could not find a primary in topology",
	"ERR00002": "found multiple primaries in topology",
	"ERR00003": "could not connect to server %s: %s",
	"ERR00004": "server %s is a replica, refusing primary-only operation",
	"ERR00005": "ssh connection to %s failed: %s",
	"ERR00006": "remote command on %s exited non-zero: %s",
	"ERR00007": "replica %s did not leave recovery after %d attempts",
	"ERR00008": "no eligible candidate found among replicas",
	"ERR00009": "candidate %s failed fencing check, refusing promotion",
	"ERR00010": "config file, database row and static config disagree and cannot be reconciled for server %s",
	"ERR00011": "handyrep schema/table could not be created: %s",
	"ERR00012": "plugin %s not registered for capability %s",
	"ERR00013": "server %s is already enabled",
	"ERR00014": "server %s is disabled, refusing operation",
	"ERR00015": "cannot change role of server %s while enabled",
	"ERR00016": "cannot change status field directly on server %s",
	"ERR00017": "manual failover target %s is not a replica of the current primary",
	"ERR00018": "archiving already running for server %s",
	"ERR00019": "unknown server %s",
	"WARN0001": "server %s lag %d exceeds warning threshold",
	"WARN0002": "server %s service status check failed, falling back to poll",
	"WARN0003": "writes frozen on server %s",
	"WARN0004": "no alert plugin configured, alert suppressed: %s",
}

// newError builds a HandyRepError from the catalogue, formatting args into
// the stored template.
func newError(kind Kind, code string, err error, args ...interface{}) *HandyRepError {
	tmpl, ok := errCatalogue[code]
	msg := tmpl
	if !ok {
		msg = "unknown error code " + code
	} else if len(args) > 0 {
		msg = fmt.Sprintf(tmpl, args...)
	}
	return &HandyRepError{Kind: kind, Code: code, Message: msg, Err: err}
}
