package spartan

import (
	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// QueryID is a per-query correlation id attached to every per-query log
// line (and audit-log entry) of one FSM instance, so a query's dispatch,
// winner, and drain lines can be grepped together across its probe
// fan-out. Metrics calls do not carry it.
type QueryID uuid.UUID

func newQueryID() QueryID { return QueryID(uuid.New()) }

func (id QueryID) String() string { return uuid.UUID(id).String() }

// ReplyHandle is the capability the FSM uses to deliver bytes back to the
// client that sent a query, without knowing whether that client spoke UDP
// or TCP. Its sole capability is Deliver; whether that is a datagram send
// or a length-prefixed stream write is hidden behind the implementation.
type ReplyHandle interface {
	// Deliver sends b to the originating client. Implementations must
	// tolerate being called from any goroutine and must not block
	// indefinitely; a vanished client is not an error the FSM can act on.
	Deliver(b []byte) error

	// Protocol identifies the transport ("udp" or "tcp") so probes know
	// which wire transport to use, per §4.3 ("a probe's wire transport
	// matches the client's wire transport").
	Protocol() string
}

// Query is the immutable input to one FSM instance.
type Query struct {
	ID     QueryID
	Raw    []byte
	Reply  ReplyHandle
	Client ClientInfo

	decoded    *dns.Msg
	decodeErr  error
	decodeOnce bool
}

// NewQuery constructs a Query. The decoded message is computed lazily, at
// most once, the first time Decode is called.
func NewQuery(raw []byte, reply ReplyHandle, ci ClientInfo) *Query {
	return &Query{
		ID:     newQueryID(),
		Raw:    raw,
		Reply:  reply,
		Client: ci,
	}
}

// Decode parses Raw as a DNS message, caching the result (success or
// failure) so repeated calls never re-parse.
func (q *Query) Decode(codec WireCodec) (*dns.Msg, error) {
	if !q.decodeOnce {
		q.decoded, q.decodeErr = codec.Decode(q.Raw)
		q.decodeOnce = true
	}
	return q.decoded, q.decodeErr
}
