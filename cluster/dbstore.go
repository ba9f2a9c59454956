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
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// sqlDBStore persists the handyrep row via sqlx, matching §6's "Database
// table" schema `<schema>.<table>(updated, config, servers, status,
// last_ip, last_sync)`.
type sqlDBStore struct {
	db        *sqlx.DB
	schema    string
	table     string
	clientIP  string
}

// NewDBStore returns a DBStore backed by db, writing to schema.table.
func NewDBStore(db *sqlx.DB, schema, table, clientIP string) DBStore {
	return &sqlDBStore{db: db, schema: schema, table: table, clientIP: clientIP}
}

func (s *sqlDBStore) qualified() string {
	return `"` + s.schema + `"."` + s.table + `"`
}

func (s *sqlDBStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS "`+s.schema+`"`); err != nil {
		return err
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.qualified() + ` (
		updated timestamptz,
		config json,
		servers json,
		status json,
		last_ip inet,
		last_sync timestamptz
	)`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *sqlDBStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var row struct {
		Updated time.Time `db:"updated"`
		Servers []byte    `db:"servers"`
		Status  []byte    `db:"status"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT updated, servers, status FROM `+s.qualified()+` LIMIT 1`)
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	snap.UpdatedAt = row.Updated
	if err := json.Unmarshal(row.Servers, &snap.Servers); err != nil {
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal(row.Status, &snap.Status); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *sqlDBStore) Save(ctx context.Context, snap Snapshot) error {
	servers, err := json.Marshal(snap.Servers)
	if err != nil {
		return err
	}
	status, err := json.Marshal(snap.Status)
	if err != nil {
		return err
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM `+s.qualified()); err != nil {
		return err
	}
	if count == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO `+s.qualified()+` (updated, servers, status, last_ip, last_sync) VALUES (now(), $1, $2, $3, now())`,
			servers, status, s.clientIP)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE `+s.qualified()+` SET updated = now(), servers = $1, status = $2, last_ip = $3, last_sync = now()`,
		servers, status, s.clientIP)
	return err
}
