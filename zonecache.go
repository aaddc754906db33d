package spartan

import (
	"strings"
	"sync"
)

// ZoneCache answers whether this process is authoritative for a name. A
// non-found return (including any ambiguous result) is treated by the
// router as not found.
type ZoneCache interface {
	GetAuthority(name string) (found bool)
}

// memoryZoneCache is a ZoneCache backed by a static set of zone names,
// refreshed wholesale from configuration at startup. It is concurrency-safe
// so it can be shared across every FSM's router lookups.
type memoryZoneCache struct {
	mu    sync.RWMutex
	zones map[string]struct{}
}

var _ ZoneCache = &memoryZoneCache{}

// NewMemoryZoneCache returns a ZoneCache authoritative for the given zone
// names (and any subdomain of them).
func NewMemoryZoneCache(zones []string) *memoryZoneCache {
	z := &memoryZoneCache{zones: make(map[string]struct{}, len(zones))}
	z.Set(zones)
	return z
}

// Set replaces the authoritative zone set.
func (z *memoryZoneCache) Set(zones []string) {
	m := make(map[string]struct{}, len(zones))
	for _, zone := range zones {
		m[dns1035Fqdn(zone)] = struct{}{}
	}
	z.mu.Lock()
	z.zones = m
	z.mu.Unlock()
}

// GetAuthority reports whether name falls within any configured zone.
func (z *memoryZoneCache) GetAuthority(name string) bool {
	name = dns1035Fqdn(name)
	z.mu.RLock()
	defer z.mu.RUnlock()
	for zone := range z.zones {
		if name == zone || strings.HasSuffix(name, "."+zone) {
			return true
		}
	}
	return false
}

func dns1035Fqdn(s string) string {
	s = strings.ToLower(s)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
