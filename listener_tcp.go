package spartan

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// TCPListener receives client queries over a length-prefixed TCP stream and
// starts one FSM per query, matching the teacher's pipelining approach
// (query-log.go's sibling, pipeline.go) but on the server side: many
// queries on one connection are answered out of order, as each FSM
// finishes independently.
type TCPListener struct {
	id      string
	addr    string
	router  *Router
	metrics MetricsSink
	codec   WireCodec
}

var _ Listener = &TCPListener{}

// NewTCPListener returns a TCP listener bound to addr once Start is called.
func NewTCPListener(id, addr string, router *Router, metrics MetricsSink) *TCPListener {
	return &TCPListener{
		id:      id,
		addr:    addr,
		router:  router,
		metrics: metrics,
		codec:   DefaultWireCodec,
	}
}

// Start opens the TCP socket and accepts connections until it fails.
func (l *TCPListener) Start() error {
	Log.WithFields(map[string]interface{}{"id": l.id, "addr": l.addr, "protocol": "tcp"}).Info("starting listener")

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go l.serve(conn)
	}
}

func (l *TCPListener) String() string { return l.id }

// serve reads length-prefixed queries from one client connection, starting
// an FSM for each without blocking on its reply, so a slow query doesn't
// stall the ones behind it. Replies are written back as FSMs finish,
// possibly out of order. When the read loop exits for any reason, the
// connection is closed, which fails any reply write still in flight --
// FSM and reader share a failure domain (§5) without needing a separate
// cancellation signal, since a closed net.Conn fails Write immediately.
func (l *TCPListener) serve(conn net.Conn) {
	defer conn.Close()

	reply := &tcpReplyHandle{conn: conn}
	ci := ClientInfo{Protocol: "tcp"}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ci.SourceIP = addr.IP
	}

	var prefix [2]byte
	for {
		if _, err := io.ReadFull(conn, prefix[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(prefix[:])
		raw := make([]byte, length)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return
		}

		query := NewQuery(raw, reply, ci)
		StartFSM(query, l.router, l.metrics, l.codec)
	}
}

// tcpReplyHandle delivers bytes back to a TCP client as one length-prefixed
// write. Writes from concurrently-finishing FSMs on the same connection are
// serialized by mu so two replies can never interleave on the wire.
type tcpReplyHandle struct {
	conn net.Conn
	mu   sync.Mutex
}

var _ ReplyHandle = &tcpReplyHandle{}

func (h *tcpReplyHandle) Deliver(b []byte) error {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(b)))

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.conn.Write(prefix[:]); err != nil {
		return err
	}
	_, err := h.conn.Write(b)
	return err
}

func (h *tcpReplyHandle) Protocol() string { return "tcp" }
