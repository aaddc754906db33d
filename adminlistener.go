package spartan

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminServerTimeout bounds read/write on the admin HTTP server.
const adminServerTimeout = 10 * time.Second

// AdminListener serves the process's Prometheus metrics (and pprof
// profiles) over plain HTTP. It is not a DNS listener, but it implements
// the same Listener contract so it can be started and logged alongside the
// UDP/TCP listeners (teacher's adminlistener.go serves expvar the same
// way).
type AdminListener struct {
	id         string
	addr       string
	httpServer *http.Server
	mux        *http.ServeMux
}

var _ Listener = &AdminListener{}

// NewAdminListener returns an admin listener bound to addr once Start is
// called.
func NewAdminListener(id, addr string) *AdminListener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	return &AdminListener{id: id, addr: addr, mux: mux}
}

// Start the admin server.
func (s *AdminListener) Start() error {
	Log.WithFields(map[string]interface{}{"id": s.id, "addr": s.addr}).Info("starting admin listener")

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  adminServerTimeout,
		WriteTimeout: adminServerTimeout,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.httpServer.Serve(ln)
}

// Stop the admin server.
func (s *AdminListener) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	Log.WithFields(map[string]interface{}{"id": s.id, "addr": s.addr}).Info("stopping admin listener")
	return s.httpServer.Shutdown(context.Background())
}

func (s *AdminListener) String() string { return s.id }
