package spartan

import (
	"net"
)

// UDPListener receives client queries over UDP and starts an FSM for each
// one. UDP clients have no failure domain to link to: Deliver simply
// attempts a send and ignores the result, since datagrams are unreliable
// anyway (§5).
type UDPListener struct {
	id      string
	addr    string
	conn    *net.UDPConn
	router  *Router
	metrics MetricsSink
	codec   WireCodec
}

var _ Listener = &UDPListener{}

// NewUDPListener returns a UDP listener bound to addr once Start is called.
func NewUDPListener(id, addr string, router *Router, metrics MetricsSink) *UDPListener {
	return &UDPListener{
		id:      id,
		addr:    addr,
		router:  router,
		metrics: metrics,
		codec:   DefaultWireCodec,
	}
}

// Start opens the UDP socket and serves queries until it fails to read.
func (l *UDPListener) Start() error {
	Log.WithFields(map[string]interface{}{"id": l.id, "addr": l.addr, "protocol": "udp"}).Info("starting listener")

	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn
	defer conn.Close()

	buf := make([]byte, maxUDPMsgSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		reply := &udpReplyHandle{conn: conn, to: from}
		ci := ClientInfo{SourceIP: from.IP, Protocol: "udp"}
		query := NewQuery(raw, reply, ci)
		StartFSM(query, l.router, l.metrics, l.codec)
	}
}

func (l *UDPListener) String() string { return l.id }

// udpReplyHandle delivers bytes back to a UDP client as a single datagram
// from the listener's own socket.
type udpReplyHandle struct {
	conn *net.UDPConn
	to   *net.UDPAddr
}

var _ ReplyHandle = &udpReplyHandle{}

func (h *udpReplyHandle) Deliver(b []byte) error {
	_, err := h.conn.WriteToUDP(b, h.to)
	return err
}

func (h *udpReplyHandle) Protocol() string { return "udp" }
