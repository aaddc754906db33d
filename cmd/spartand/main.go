package main

import (
	"fmt"
	"os"
	"time"

	spartan "github.com/mesosphere/spartand"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "spartand",
		Short: "Recursive DNS forwarder",
		Long: `Recursive DNS forwarder.

It listens for incoming DNS requests over UDP and TCP and races each
one against up to two sampled upstream resolvers, forwarding the first
decodable reply back to the client verbatim.
`,
		Example: `  spartand config.toml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(args[0])
		},
		SilenceUsage: true,
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(configFile string) error {
	config, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	zones := spartan.NewMemoryZoneCache(config.Zones)
	router := spartan.NewRouter(spartan.RouterConfig{
		Mesos:    toPoolEntries(config.Router.Mesos),
		AuthZone: toPoolEntries(config.Router.AuthZone),
		Public:   toPoolEntries(config.Router.Public),
	}, zones)

	metrics, err := spartan.NewPromMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if config.Syslog.Enabled {
		err := spartan.EnableSyslog(spartan.SyslogOptions{
			Network:  config.Syslog.Network,
			Address:  config.Syslog.Address,
			Priority: config.Syslog.Priority,
			Tag:      config.Syslog.Tag,
		})
		if err != nil {
			return fmt.Errorf("failed to enable syslog: %w", err)
		}
	}

	if config.QueryLog.Enabled {
		ql, err := spartan.NewQueryLog(config.QueryLog.Output)
		if err != nil {
			return fmt.Errorf("failed to open query log: %w", err)
		}
		spartan.AuditLog = ql
	}

	var listeners []spartan.Listener
	for id, l := range config.Listeners {
		switch l.Protocol {
		case "udp":
			listeners = append(listeners, spartan.NewUDPListener(id, l.Address, router, metrics))
		case "tcp":
			listeners = append(listeners, spartan.NewTCPListener(id, l.Address, router, metrics))
		default:
			return fmt.Errorf("unsupported protocol '%s' for listener '%s'", l.Protocol, id)
		}
	}
	if config.Admin != "" {
		listeners = append(listeners, spartan.NewAdminListener("admin", config.Admin))
	}
	if len(listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}

	for _, l := range listeners {
		go func(l spartan.Listener) {
			for {
				spartan.Log.WithField("listener", l.String()).Info("starting listener")
				err := l.Start()
				spartan.Log.WithError(err).WithField("listener", l.String()).Error("listener failed, restarting")
				time.Sleep(time.Second)
			}
		}(l)
	}

	select {}
}

func toPoolEntries(entries []poolEntryConfig) []spartan.PoolEntry {
	out := make([]spartan.PoolEntry, len(entries))
	for i, e := range entries {
		out[i] = spartan.PoolEntry{Address: e.Address, Port: e.Port}
	}
	return out
}
