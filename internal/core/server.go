package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"capgate/internal/metrics"
	"capgate/internal/transport"
	"capgate/util"
)

// Server accepts websocket connections on Addr and runs Handler on
// each, one goroutine per connection.  GET /stats serves the metrics.
type Server struct {
	Addr               string // "host:port"
	Handler            *Handler
	CleanupConcurrency int
	MaxMessageSize     int64
	WriteTimeout       time.Duration
	GracePeriod        time.Duration
	Logger             *util.Logger
	Metrics            *metrics.Collector

	mu      sync.Mutex
	conns   map[*transport.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
	bound   net.Addr
}

// Run purges leftovers from earlier runs, then serves until ctx is
// cancelled.  Only listener failures are returned.
func (s *Server) Run(ctx context.Context) error {
	start := time.Now()
	n, err := s.Handler.Root.PurgeAll(ctx, s.CleanupConcurrency)
	if err != nil {
		s.Logger.Warn("startup cleanup: %v", err)
	}
	s.Logger.Info("startup cleanup removed %d staging directories in %s", n, time.Since(start).Truncate(time.Millisecond))

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes
// every open connection and waits up to GracePeriod for handlers to
// release their staging areas.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Mux(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.Logger.Info("listening on %s", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Verbose("shutting down")
	grace := s.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	srv.Shutdown(sctx) //nolint:errcheck
	s.closeAll()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-sctx.Done():
		s.Logger.Warn("shutdown: handlers still running after %s", grace)
	}
	return nil
}

// Mux returns the HTTP routes: /stats for metrics and everything else
// upgraded to a gateway connection bound to ctx.
func (s *Server) Mux(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.stats)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.upgrade(ctx, w, r)
	})
	return mux
}

// BoundAddr returns the address the server is listening on, or nil
// before Serve has started.
func (s *Server) BoundAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, s.Metrics.JSON())
}

func (s *Server) upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, s.MaxMessageSize, s.WriteTimeout)
	if err != nil {
		s.Logger.Debug("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	if !s.track(conn) {
		conn.Close(websocket.CloseGoingAway, "server shutting down") //nolint:errcheck
		return
	}
	defer s.untrack(conn)

	s.Handler.Serve(ctx, conn)
	conn.Close(websocket.CloseNormalClosure, "") //nolint:errcheck
}

func (s *Server) track(c *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[*transport.Conn]struct{})
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *transport.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		c.Close(websocket.CloseGoingAway, "server shutting down") //nolint:errcheck
	}
}
