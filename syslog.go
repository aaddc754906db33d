package spartan

import (
	syslog "github.com/RackSec/srslog"
)

// SyslogOptions configures an alternate syslog destination for Log.
type SyslogOptions struct {
	// "udp", "tcp", or "unix". Defaults to "udp".
	Network string

	// Remote address, defaults to the local syslog daemon.
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority.
	Priority int

	// Syslog tag.
	Tag string
}

// EnableSyslog redirects Log's output to a syslog daemon instead of
// stderr. It's the only thing syslog.go does: routing decisions, the FSM,
// and probes all go through Log, so this single call changes where every
// log line in the process ends up.
func EnableSyslog(opt SyslogOptions) error {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		return err
	}
	Log.SetOutput(writer)
	return nil
}
