package spartan

import "github.com/miekg/dns"

// WireCodec decodes and encodes DNS wire-format messages. It is the only
// component that understands DNS message structure; the FSM and probes
// otherwise pass raw bytes around untouched.
type WireCodec interface {
	Decode(b []byte) (*dns.Msg, error)
	Encode(m *dns.Msg) ([]byte, error)
}

// msgCodec is the default WireCodec, backed by miekg/dns.
type msgCodec struct{}

// DefaultWireCodec is the WireCodec used by listeners unless overridden.
var DefaultWireCodec WireCodec = msgCodec{}

func (msgCodec) Decode(b []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, err
	}
	return m, nil
}

func (msgCodec) Encode(m *dns.Msg) ([]byte, error) {
	return m.Pack()
}

// servfail builds a SERVFAIL reply for req, re-encodes it, and returns the
// wire bytes. The id, flags other than rcode, and the question section are
// left intact; only the response-code field is overwritten.
func servfail(codec WireCodec, req *dns.Msg) ([]byte, error) {
	resp := req.Copy()
	resp.Rcode = dns.RcodeServerFailure
	return codec.Encode(resp)
}

// qName returns the name of the first question in m, or "" if there is none.
func qName(m *dns.Msg) string {
	if len(m.Question) == 0 {
		return ""
	}
	return m.Question[0].Name
}
