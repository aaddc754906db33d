package spartan

import (
	"fmt"
	"net"
)

// UpstreamEndpoint is an upstream resolver address. Equality is structural,
// which is what lets the router return (and the FSM sample from) a list
// with intentional duplicates.
type UpstreamEndpoint struct {
	IP   [4]byte
	Port int
}

func (e UpstreamEndpoint) String() string {
	ip := net.IPv4(e.IP[0], e.IP[1], e.IP[2], e.IP[3])
	return fmt.Sprintf("%s:%d", ip.String(), e.Port)
}

// Addr returns the net.UDPAddr/net.TCPAddr-compatible string form, usable
// directly with net.Dial and friends.
func (e UpstreamEndpoint) Addr() string {
	return e.String()
}

// PoolEntry is one line of configuration for a resolver pool: an address
// (dotted-quad string) and an optional port. A missing port defaults to 53
// at normalization time.
type PoolEntry struct {
	Address string
	Port    int
}

const defaultDNSPort = 53

// normalizeEndpoint parses one configured pool entry into an
// UpstreamEndpoint. It is idempotent: normalizing an already-normalized
// entry (address string equal to its own String() output, port already
// set) yields an identical result.
func normalizeEndpoint(entry PoolEntry) (UpstreamEndpoint, error) {
	ip := net.ParseIP(entry.Address).To4()
	if ip == nil {
		return UpstreamEndpoint{}, &unparseableEndpointError{
			entry: entry.Address,
			cause: fmt.Errorf("not a valid IPv4 address"),
		}
	}
	port := entry.Port
	if port == 0 {
		port = defaultDNSPort
	}
	var e UpstreamEndpoint
	copy(e.IP[:], ip)
	e.Port = port
	return e, nil
}

// normalizePool normalizes every entry in a configured pool, dropping any
// entry that fails to parse (logged, not returned as an error). Duplicate
// entries are preserved: they are sampling weights, not noise.
func normalizePool(entries []PoolEntry) []UpstreamEndpoint {
	pool := make([]UpstreamEndpoint, 0, len(entries))
	for _, entry := range entries {
		ep, err := normalizeEndpoint(entry)
		if err != nil {
			Log.WithError(err).Debug("dropping unparseable pool entry")
			continue
		}
		pool = append(pool, ep)
	}
	return pool
}

// defaultPublicPool is the built-in public-resolver pool used when none is
// configured. The triplicated entries are intentional: they weight the
// sampling done by the FSM's probe-selection policy.
func defaultPublicPool() []UpstreamEndpoint {
	entries := []PoolEntry{
		{Address: "8.8.8.8", Port: 53},
		{Address: "4.2.2.1", Port: 53},
		{Address: "8.8.8.8", Port: 53},
		{Address: "4.2.2.1", Port: 53},
		{Address: "8.8.8.8", Port: 53},
	}
	return normalizePool(entries)
}
