// Package config defines the typed projection of the static configuration
// file, one of the three stores reconciled by the config sync engine.
//
// Parsing TOML/INI syntax and schema validation belong to an external loader
// (see spec Non-goals); this package only shapes the nested key/value data
// that loader hands back into a Go struct, and knows how to pull that shape
// out of a *viper.Viper the way the teacher's server.InitConfig does.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// HandyrepSection holds daemon identity, logging and connection settings.
type HandyrepSection struct {
	HandyrepDB           string `mapstructure:"handyrep_db"`
	HandyrepUser         string `mapstructure:"handyrep_user"`
	HandyrepSchema       string `mapstructure:"handyrep_schema"`
	HandyrepTable        string `mapstructure:"handyrep_table"`
	ReplicationUser      string `mapstructure:"replication_user"`
	ServerFile           string `mapstructure:"server_file"`
	TestSSHCommand       string `mapstructure:"test_ssh_command"`
	TemplatesDir         string `mapstructure:"templates_dir"`
	PostgresSuperuser    string `mapstructure:"postgres_superuser"`
	AuthenticationMethod string `mapstructure:"authentication_method"`
	PushAlertMethod      string `mapstructure:"push_alert_method"`
	MasterCheckMethod    string `mapstructure:"master_check_method"`
	OverrideServerFile   bool   `mapstructure:"override_server_file"`
	LogFile              string `mapstructure:"log_file"`
	LogVerbose           bool   `mapstructure:"log_verbose"`
	LogSyslog            bool   `mapstructure:"log_syslog"`
}

// FailoverSection controls the health pipeline and orchestrator policy.
type FailoverSection struct {
	PollInterval            int    `mapstructure:"poll_interval"`
	PollMethod              string `mapstructure:"poll_method"`
	VerifyFrequency         int    `mapstructure:"verify_frequency"`
	FailRetries             int    `mapstructure:"fail_retries"`
	FailRetryInterval       int    `mapstructure:"fail_retry_interval"`
	RecoveryRetries         int    `mapstructure:"recovery_retries"`
	RestartMaster           bool   `mapstructure:"restart_master"`
	AutoFailover            bool   `mapstructure:"auto_failover"`
	Remaster                bool   `mapstructure:"remaster"`
	SelectionMethod         string `mapstructure:"selection_method"`
	ReplicationStatusMethod string `mapstructure:"replication_status_method"`
	ConnectionFailover      bool   `mapstructure:"connection_failover"`
	ConnectionFailoverMethod string `mapstructure:"connection_failover_method"`
	PollConnectionProxy     bool   `mapstructure:"poll_connection_proxy"`
}

// ArchiveSection controls WAL archiving lifecycle.
type ArchiveSection struct {
	Archiving           bool   `mapstructure:"archiving"`
	ArchiveScriptMethod string `mapstructure:"archive_script_method"`
	ArchiveDeleteMethod string `mapstructure:"archive_delete_method"`
}

// PasswordsSection holds secrets never returned by GetSetting.
type PasswordsSection struct {
	ReplicationPass string `mapstructure:"replication_pass"`
	HandyrepDBPass  string `mapstructure:"handyrep_db_pass"`
}

// ExtraFailoverCommand is one post-failover hook entry.
type ExtraFailoverCommand struct {
	Command    string   `mapstructure:"command"`
	Parameters []string `mapstructure:"parameters"`
}

// Config is the fully merged static configuration.
type Config struct {
	Handyrep              HandyrepSection                  `mapstructure:"handyrep"`
	Failover              FailoverSection                   `mapstructure:"failover"`
	Archive               ArchiveSection                    `mapstructure:"archive"`
	Passwords             PasswordsSection                  `mapstructure:"passwords"`
	ServerDefaults        map[string]interface{}            `mapstructure:"server_defaults"`
	Servers               map[string]map[string]interface{} `mapstructure:"servers"`
	ExtraFailoverCommands map[string]ExtraFailoverCommand    `mapstructure:"extra_failover_commands"`
	Plugins               map[string]map[string]interface{} `mapstructure:"plugins"`

	// ConfigFile is not part of the nested data; it records where this
	// Config was read from, mirroring conf["handyrep"]["config_file"].
	ConfigFile string
}

// FromViper projects a merged *viper.Viper tree into a Config. v is expected
// to expose the top-level sections named in the recognized-sections list.
func FromViper(v *viper.Viper) (Config, error) {
	var c Config
	c.ServerDefaults = map[string]interface{}{}
	c.Servers = map[string]map[string]interface{}{}
	c.ExtraFailoverCommands = map[string]ExtraFailoverCommand{}
	c.Plugins = map[string]map[string]interface{}{}
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Config) {
	if c.Handyrep.HandyrepSchema == "" {
		c.Handyrep.HandyrepSchema = "handyrep"
	}
	if c.Handyrep.HandyrepTable == "" {
		c.Handyrep.HandyrepTable = "handyrep"
	}
	if c.Failover.PollInterval == 0 {
		c.Failover.PollInterval = 10
	}
	if c.Failover.VerifyFrequency == 0 {
		c.Failover.VerifyFrequency = 6
	}
	if c.Failover.FailRetries == 0 {
		c.Failover.FailRetries = 3
	}
	if c.Failover.RecoveryRetries == 0 {
		c.Failover.RecoveryRetries = 5
	}
}

// TableName is the schema-qualified handyrep table name, e.g. "handyrep"."handyrep".
func (c Config) TableName() string {
	return `"` + c.Handyrep.HandyrepSchema + `"."` + c.Handyrep.HandyrepTable + `"`
}

// GetSetting looks up a dotted "section.field" path, refusing access to the
// passwords section the way the original get_setting() does. Only the
// handful of fields the core reads programmatically are resolved; anything
// else is the external config loader's concern.
func (c Config) GetSetting(path string) (interface{}, bool) {
	parts := strings.SplitN(path, ".", 2)
	if parts[0] == "passwords" {
		return nil, false
	}
	if len(parts) != 2 {
		return nil, false
	}
	switch parts[0] {
	case "handyrep":
		switch parts[1] {
		case "override_server_file":
			return c.Handyrep.OverrideServerFile, true
		case "push_alert_method":
			return c.Handyrep.PushAlertMethod, true
		case "master_check_method":
			return c.Handyrep.MasterCheckMethod, true
		case "authentication_method":
			return c.Handyrep.AuthenticationMethod, true
		}
	case "failover":
		switch parts[1] {
		case "poll_method":
			return c.Failover.PollMethod, true
		case "selection_method":
			return c.Failover.SelectionMethod, true
		case "replication_status_method":
			return c.Failover.ReplicationStatusMethod, true
		case "connection_failover_method":
			return c.Failover.ConnectionFailoverMethod, true
		}
	case "plugins":
		if v, ok := c.Plugins[parts[1]]; ok {
			return v, true
		}
	case "servers":
		if v, ok := c.Servers[parts[1]]; ok {
			return v, true
		}
	}
	return nil, false
}
