// Command handyrepd is the daemon entrypoint. Flag and config-file parsing
// stay intentionally thin per spec Non-goals (the CLI itself is an external
// collaborator); this just wires pflag onto viper and hands the merged tree
// to server.NewDaemon, the way the teacher's main/initAlias sequence does.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ubiquitousthey/handyrep/cluster"
	"github.com/ubiquitousthey/handyrep/dbclient"
	"github.com/ubiquitousthey/handyrep/plugin"
	"github.com/ubiquitousthey/handyrep/remote"
	"github.com/ubiquitousthey/handyrep/server"
)

// handyrepDBStore opens the management-table connection (§6's "database
// table" store) against the current primary, mirroring handyrep.py's own
// connection()'s use of handyrep_db/handyrep_user against self.servers
// rather than a separate standalone database.
func handyrepDBStore(ctx context.Context, d *server.Daemon) cluster.DBStore {
	conf := d.Conf
	var primaryHost string
	var primaryPort int
	for _, raw := range conf.Servers {
		if role, _ := raw["role"].(string); role == "primary" {
			primaryHost, _ = raw["hostname"].(string)
			if p, ok := raw["port"].(int); ok {
				primaryPort = p
			}
			break
		}
	}
	if primaryHost == "" {
		return nil
	}
	if primaryPort == 0 {
		primaryPort = 5432
	}

	ep := dbclient.Endpoint{
		Name:     "handyrep-db",
		Host:     primaryHost,
		Port:     primaryPort,
		User:     conf.Handyrep.HandyrepUser,
		Password: conf.Passwords.HandyrepDBPass,
		Database: conf.Handyrep.HandyrepDB,
	}
	client := dbclient.New(nil)
	db, err := client.Connect(ctx, ep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handyrepd: handyrep db unreachable, continuing with file-only sync: %v\n", err)
		return nil
	}

	store := cluster.NewDBStore(db, conf.Handyrep.HandyrepSchema, conf.Handyrep.HandyrepTable, primaryHost)
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "handyrepd: could not ensure handyrep schema: %v\n", err)
		return nil
	}
	return store
}

func main() {
	flags := pflag.NewFlagSet("handyrepd", pflag.ExitOnError)
	configFile := flags.String("config", "/etc/handyrep/handyrep.toml", "path to the static config file")
	snapshotFile := flags.String("snapshot-file", "/var/lib/handyrep/state.json", "path to the on-disk state snapshot")
	clusterName := flags.String("cluster", "default", "name of the cluster this instance manages")
	flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetConfigFile(*configFile)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "handyrepd: config read failed, continuing with defaults: %v\n", err)
	}

	d, err := server.NewDaemon(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handyrepd: config error: %v\n", err)
		os.Exit(1)
	}

	registry := plugin.NewRegistry()
	registry.RegisterBuiltin(plugin.CapConnectionFailover, plugin.NewPgBouncer(nil))

	exec := remote.New(nil)
	db := dbclient.New(nil)

	c := d.AddCluster(*clusterName, registry, exec, db)
	for name, raw := range d.Conf.Servers {
		c.AddServer(context.Background(), name, raw)
	}

	engines := map[string]cluster.SyncEngine{
		*clusterName: {
			File:    cluster.NewFileStore(*snapshotFile),
			DB:      handyrepDBStore(context.Background(), d),
			IsAlive: cluster.IsProcessAlive,
		},
	}

	if err := d.Run(context.Background(), engines); err != nil {
		fmt.Fprintf(os.Stderr, "handyrepd: %v\n", err)
		os.Exit(1)
	}
}
