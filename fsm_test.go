package spartan

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// recordingReply is a ReplyHandle that captures whatever the FSM delivers.
type recordingReply struct {
	protocol string
	delivered chan []byte
}

func newRecordingReply(protocol string) *recordingReply {
	return &recordingReply{protocol: protocol, delivered: make(chan []byte, 1)}
}

func (r *recordingReply) Deliver(b []byte) error {
	r.delivered <- b
	return nil
}

func (r *recordingReply) Protocol() string { return r.protocol }

// countingMetrics is a MetricsSink that just counts calls, for assertions.
type countingMetrics struct {
	successes       atomic.Int64
	failures        atomic.Int64
	ignored         atomic.Int64
	noUpstreams     atomic.Int64
	upstreamsFailed atomic.Int64
}

var _ MetricsSink = &countingMetrics{}

func (m *countingMetrics) IncUpstreamSuccess(ep UpstreamEndpoint, latency float64) { m.successes.Add(1) }
func (m *countingMetrics) IncUpstreamFailure(ep UpstreamEndpoint)                  { m.failures.Add(1) }
func (m *countingMetrics) AddIgnoredQuestions(n int)                              { m.ignored.Add(int64(n)) }
func (m *countingMetrics) IncNoUpstreamsAvailable()                               { m.noUpstreams.Add(1) }
func (m *countingMetrics) IncUpstreamsFailed()                                    { m.upstreamsFailed.Add(1) }

// fakeUpstreamUDP starts a loopback UDP server that answers every query
// after delay with the bytes built by respond, and returns the PoolEntry to
// reach it plus a stop function.
func fakeUpstreamUDP(t *testing.T, delay time.Duration, respond func(q *dns.Msg) *dns.Msg) (PoolEntry, func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, maxUDPMsgSize)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			q := new(dns.Msg)
			if err := q.Unpack(buf[:n]); err != nil {
				continue
			}
			go func(q *dns.Msg, from *net.UDPAddr) {
				if delay > 0 {
					time.Sleep(delay)
				}
				resp := respond(q)
				if resp == nil {
					return
				}
				out, err := resp.Pack()
				if err != nil {
					return
				}
				_, _ = conn.WriteToUDP(out, from)
			}(q, from)
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return PoolEntry{Address: "127.0.0.1", Port: addr.Port}, func() { conn.Close() }
}

// fakeUpstreamUDPRaw answers every query with the fixed raw bytes, useful
// for simulating an upstream that returns undecodable garbage.
func fakeUpstreamUDPRaw(t *testing.T, raw []byte) (PoolEntry, func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, maxUDPMsgSize)
		for {
			_, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(raw, from)
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return PoolEntry{Address: "127.0.0.1", Port: addr.Port}, func() { conn.Close() }
}

func fakeUpstreamTCP(t *testing.T, delay time.Duration, respond func(q *dns.Msg) *dns.Msg) (PoolEntry, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var prefix [2]byte
				if _, err := io.ReadFull(conn, prefix[:]); err != nil {
					return
				}
				length := binary.BigEndian.Uint16(prefix[:])
				raw := make([]byte, length)
				if _, err := io.ReadFull(conn, raw); err != nil {
					return
				}
				q := new(dns.Msg)
				if err := q.Unpack(raw); err != nil {
					return
				}
				if delay > 0 {
					time.Sleep(delay)
				}
				resp := respond(q)
				if resp == nil {
					return
				}
				out, err := resp.Pack()
				if err != nil {
					return
				}
				var outPrefix [2]byte
				binary.BigEndian.PutUint16(outPrefix[:], uint16(len(out)))
				_, _ = conn.Write(outPrefix[:])
				_, _ = conn.Write(out)
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return PoolEntry{Address: "127.0.0.1", Port: addr.Port}, func() { ln.Close() }
}

func answerWithA(q *dns.Msg, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(q)
	if len(q.Question) > 0 {
		rr, _ := dns.NewRR(q.Question[0].Name + " 60 IN A " + ip)
		if rr != nil {
			resp.Answer = append(resp.Answer, rr)
		}
	}
	return resp
}

func buildQuery(t *testing.T, name string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

func TestFSMDeliversFastestWinnerUDP(t *testing.T) {
	fast, stopFast := fakeUpstreamUDP(t, 0, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "1.1.1.1") })
	defer stopFast()
	slow, stopSlow := fakeUpstreamUDP(t, 300*time.Millisecond, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "2.2.2.2") })
	defer stopSlow()

	router := NewRouter(RouterConfig{Public: []PoolEntry{fast, slow}}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")
	query := NewQuery(buildQuery(t, "example.com"), reply, ClientInfo{SourceIP: net.ParseIP("127.0.0.1"), Protocol: "udp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case raw := <-reply.delivered:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(raw))
		require.Len(t, resp.Answer, 1)
		a, ok := resp.Answer[0].(*dns.A)
		require.True(t, ok)
		require.Equal(t, "1.1.1.1", a.A.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	require.Eventually(t, func() bool { return metrics.successes.Load() >= 1 }, time.Second, 10*time.Millisecond)
	// The slow upstream is still mid-flight when the drain-timeout (bounded
	// by the winner's own latency, here just a few ms) expires, so it's
	// abandoned and recorded as a failure rather than a second success.
	require.Eventually(t, func() bool { return metrics.failures.Load() == 1 }, time.Second, 10*time.Millisecond)
}

// TestFSMGlobalTimeoutWhenAllUpstreamsNeverReply covers the case where
// every probe is still live when the global timeout fires: no reply is
// delivered and every upstream is recorded as a failure.
func TestFSMGlobalTimeoutWhenAllUpstreamsNeverReply(t *testing.T) {
	a, stopA := fakeUpstreamUDP(t, 0, func(q *dns.Msg) *dns.Msg { return nil })
	defer stopA()
	b, stopB := fakeUpstreamUDP(t, 0, func(q *dns.Msg) *dns.Msg { return nil })
	defer stopB()

	router := NewRouter(RouterConfig{Public: []PoolEntry{a, b}}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")
	query := NewQuery(buildQuery(t, "example.com"), reply, ClientInfo{Protocol: "udp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case <-reply.delivered:
		t.Fatal("expected no reply when every upstream times out")
	case <-time.After(globalTimeout + 500*time.Millisecond):
	}

	require.Equal(t, int64(0), metrics.successes.Load())
	require.Equal(t, int64(2), metrics.failures.Load())
	require.Equal(t, int64(1), metrics.upstreamsFailed.Load())
}

func TestFSMNoUpstreamsSendsServfail(t *testing.T) {
	router := NewRouter(RouterConfig{}, NewMemoryZoneCache(nil))
	// Force the mesos branch, which is empty unless configured.
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")
	query := NewQuery(buildQuery(t, "leader.mesos"), reply, ClientInfo{Protocol: "udp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case raw := <-reply.delivered:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(raw))
		require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for servfail")
	}
	require.Equal(t, int64(1), metrics.noUpstreams.Load())
}

func TestFSMIgnoresExtraQuestions(t *testing.T) {
	fast, stop := fakeUpstreamUDP(t, 0, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "1.1.1.1") })
	defer stop()

	router := NewRouter(RouterConfig{Public: []PoolEntry{fast}}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("a.example.com"), dns.TypeA)
	m.Question = append(m.Question, dns.Question{Name: dns.Fqdn("b.example.com"), Qtype: dns.TypeA, Qclass: dns.ClassINET})
	raw, err := m.Pack()
	require.NoError(t, err)

	query := NewQuery(raw, reply, ClientInfo{Protocol: "udp"})
	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case <-reply.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	require.Equal(t, int64(1), metrics.ignored.Load())
}

func TestFSMSamplingWithReplacementFromDuplicatePool(t *testing.T) {
	ep, stop := fakeUpstreamUDP(t, 0, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "9.9.9.9") })
	defer stop()

	pool := []PoolEntry{ep, ep, ep, ep}
	router := NewRouter(RouterConfig{Public: pool}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")
	query := NewQuery(buildQuery(t, "example.com"), reply, ClientInfo{Protocol: "udp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case raw := <-reply.delivered:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(raw))
		require.Len(t, resp.Answer, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFSMUndecodableUpstreamReplyIsTreatedAsFailure(t *testing.T) {
	garbage, stop := fakeUpstreamUDPRaw(t, []byte{0x00, 0x01, 0x02})
	defer stop()
	good, stopGood := fakeUpstreamUDP(t, 50*time.Millisecond, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "3.3.3.3") })
	defer stopGood()

	router := NewRouter(RouterConfig{Public: []PoolEntry{garbage, good}}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("udp")
	query := NewQuery(buildQuery(t, "example.com"), reply, ClientInfo{Protocol: "udp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case raw := <-reply.delivered:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(raw))
		a, ok := resp.Answer[0].(*dns.A)
		require.True(t, ok)
		require.Equal(t, "3.3.3.3", a.A.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFSMTCPClientRacesTCPUpstreams(t *testing.T) {
	fast, stopFast := fakeUpstreamTCP(t, 0, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "4.4.4.4") })
	defer stopFast()
	slow, stopSlow := fakeUpstreamTCP(t, 300*time.Millisecond, func(q *dns.Msg) *dns.Msg { return answerWithA(q, "5.5.5.5") })
	defer stopSlow()

	router := NewRouter(RouterConfig{Public: []PoolEntry{fast, slow}}, nil)
	metrics := &countingMetrics{}
	reply := newRecordingReply("tcp")
	query := NewQuery(buildQuery(t, "example.com"), reply, ClientInfo{Protocol: "tcp"})

	StartFSM(query, router, metrics, DefaultWireCodec)

	select {
	case raw := <-reply.delivered:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(raw))
		a, ok := resp.Answer[0].(*dns.A)
		require.True(t, ok)
		require.Equal(t, "4.4.4.4", a.A.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
