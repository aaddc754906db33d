package spartan

import (
	"strings"

	"github.com/miekg/dns"
)

// RouterConfig holds the three named resolver pools the Router picks from.
type RouterConfig struct {
	// Mesos is the service-discovery resolver pool, consulted for names
	// under the "mesos" suffix. May be empty.
	Mesos []PoolEntry

	// AuthZone is the authoritative-zone resolver pool, consulted for
	// names under the "zk" and "spartan" suffixes, and for any name the
	// ZoneCache considers locally authoritative.
	AuthZone []PoolEntry

	// Public is the default public-resolver pool, consulted for every
	// other name. If empty, defaultPublicPool() is used instead.
	Public []PoolEntry
}

// Router maps a DNS question to an ordered list of UpstreamEndpoints.
type Router struct {
	mesos    []UpstreamEndpoint
	authZone []UpstreamEndpoint
	public   []UpstreamEndpoint
	zones    ZoneCache
}

// NewRouter builds a Router from a RouterConfig and a ZoneCache used for
// the fallback authoritative-name check.
func NewRouter(cfg RouterConfig, zones ZoneCache) *Router {
	public := normalizePool(cfg.Public)
	if len(public) == 0 {
		public = defaultPublicPool()
	}
	return &Router{
		mesos:    normalizePool(cfg.Mesos),
		authZone: normalizePool(cfg.AuthZone),
		public:   public,
		zones:    zones,
	}
}

// UpstreamsFromQuestions implements the routing algorithm of §4.2: only the
// first question is used for routing; extras are reported via ignored. The
// returned list may contain duplicates (intentional sampling weight) and
// may be empty (a valid "no upstreams for this name" result).
func (r *Router) UpstreamsFromQuestions(questions []dns.Question) (upstreams []UpstreamEndpoint, ignored int) {
	if len(questions) == 0 {
		return nil, 0
	}
	ignored = len(questions) - 1
	name := strings.ToLower(questions[0].Name)

	switch topLevelLabel(name) {
	case "mesos":
		return r.mesos, ignored
	case "zk", "spartan":
		return r.authZone, ignored
	default:
		if r.zones != nil && r.zones.GetAuthority(name) {
			return r.authZone, ignored
		}
		return r.public, ignored
	}
}

// topLevelLabel returns the last (topmost) label of a DNS name, i.e. the
// first label of the reversed sequence, e.g. "foo.bar.mesos." -> "mesos".
// It does not change case; the caller lowercases the name first.
func topLevelLabel(name string) string {
	name = strings.TrimSuffix(name, ".")
	labels := strings.Split(name, ".")
	if len(labels) == 0 {
		return ""
	}
	return labels[len(labels)-1]
}
