package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// config is the TOML configuration file shape, loaded by loadConfig. It
// mirrors the teacher's cmd/routedns/config.go layout: a flat, mostly
// declarative structure decoded in one pass with BurntSushi/toml.
type config struct {
	Title string

	// Listeners are the client-facing sockets to open.
	Listeners map[string]listenerConfig

	// Router holds the three named resolver pools the spartan.Router
	// picks from.
	Router routerConfig

	// Zones lists the names this process is authoritative for. Any
	// query under one of them is sent to the Router's AuthZone pool,
	// same as "zk." and "spartan." (§4.2).
	Zones []string

	// Admin, if set, starts a Prometheus/pprof HTTP listener at this
	// address.
	Admin string

	// Syslog, if enabled, redirects Log's output to a syslog daemon.
	Syslog syslogConfig

	// QueryLog, if enabled, writes one audit line per completed query.
	QueryLog queryLogConfig
}

type listenerConfig struct {
	Address  string
	Protocol string // "udp" or "tcp"
}

type routerConfig struct {
	Mesos    []poolEntryConfig
	AuthZone []poolEntryConfig
	Public   []poolEntryConfig
}

type poolEntryConfig struct {
	Address string
	Port    int
}

type syslogConfig struct {
	Enabled  bool
	Network  string
	Address  string
	Priority int
	Tag      string
}

type queryLogConfig struct {
	Enabled bool
	Output  string
}

// loadConfig reads and decodes a TOML config file.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	_, err = toml.DecodeReader(f, &c)
	return c, err
}
