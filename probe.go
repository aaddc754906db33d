package spartan

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"
)

// probeTimeout bounds how long a single probe waits for its socket I/O.
// It intentionally equals globalTimeout (§9's open question #2): each probe
// also watches the FSM's ctx (watchCancel), which is cancelled the moment
// the FSM terminates and closes the probe's socket. A reply that was
// already read may still be posted after the FSM stopped reading; the
// events channel is sized to the number of spawned probes, so that send
// never blocks even after the FSM has moved on.
const probeTimeout = globalTimeout

// maxUDPMsgSize is large enough for any EDNS0-sized UDP reply a probe might
// receive; this system doesn't truncate upstream answers (§6).
const maxUDPMsgSize = 65535

// udpProbe sends query as a single datagram to ep and waits for a single
// reply datagram from that exact peer. Any socket error, short write, or
// timeout results in an eventExited event being posted instead of a reply.
func udpProbe(ctx context.Context, idx int, ep UpstreamEndpoint, query []byte, events chan<- probeEvent) {
	conn, err := net.DialTimeout("udp", ep.Addr(), probeTimeout)
	if err != nil {
		postExited(idx, ep, events)
		return
	}
	defer conn.Close()
	stopWatch := watchCancel(ctx, conn)
	defer stopWatch()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		postExited(idx, ep, events)
		return
	}
	if _, err := conn.Write(query); err != nil {
		postExited(idx, ep, events)
		return
	}

	// net.Dial for UDP returns a connected socket, so the kernel already
	// discards datagrams from any peer other than ep -- satisfying "any
	// datagram from a different source is ignored" without extra code.
	buf := make([]byte, maxUDPMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		postExited(idx, ep, events)
		return
	}
	postReply(idx, ep, buf[:n], events)
}

// tcpProbe writes query to ep with a 2-byte big-endian length prefix and
// reads one length-prefixed reply back.
func tcpProbe(ctx context.Context, idx int, ep UpstreamEndpoint, query []byte, events chan<- probeEvent) {
	conn, err := net.DialTimeout("tcp", ep.Addr(), probeTimeout)
	if err != nil {
		postExited(idx, ep, events)
		return
	}
	defer conn.Close()
	stopWatch := watchCancel(ctx, conn)
	defer stopWatch()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		postExited(idx, ep, events)
		return
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(query)))
	if _, err := conn.Write(append(prefix[:], query...)); err != nil {
		postExited(idx, ep, events)
		return
	}

	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		postExited(idx, ep, events)
		return
	}
	length := binary.BigEndian.Uint16(prefix[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		postExited(idx, ep, events)
		return
	}
	postReply(idx, ep, payload, events)
}

// watchCancel closes conn as soon as ctx is done, so that FSM termination
// unblocks any in-flight probe read/write promptly instead of waiting out
// the full probe timeout (§9, "release any still-running probe workers and
// their sockets"). The returned func stops the watch and must be called on
// every exit path once the probe no longer needs conn kept alive by ctx.
func watchCancel(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// postReply and postExited send on events, which is always buffered to the
// exact number of probes spawned for the query -- so the send never blocks
// even if the FSM has already terminated and stopped reading.
func postReply(idx int, ep UpstreamEndpoint, payload []byte, events chan<- probeEvent) {
	events <- probeEvent{idx: idx, ep: ep, kind: eventReply, payload: payload}
}

func postExited(idx int, ep UpstreamEndpoint, events chan<- probeEvent) {
	events <- probeEvent{idx: idx, ep: ep, kind: eventExited}
}
