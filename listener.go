package spartan

import (
	"fmt"
	"net"
)

// Listener is an interface for a client-facing listener (UDP, TCP, or the
// admin HTTP listener).
type Listener interface {
	Start() error
	fmt.Stringer
}

// ClientInfo carries information about the client that sent a query, used
// only for logging and metrics labels -- routing decisions are name-only
// per §4.2.
type ClientInfo struct {
	SourceIP net.IP
	Protocol string
}
