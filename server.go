package fcgid

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/arashilabs/fcgid/internal/observe"
	"github.com/arashilabs/fcgid/internal/worker"
)

// Server listens for FastCGI connections and serves them with a bounded
// pool of connection slots. Its lifecycle is grounded on the teacher's
// master.Master (pkg/fpm/master/master.go): a Start/accept loop paired
// with a Once-guarded graceful shutdown, generalized here into the
// net/http.Server convention (ListenAndServe, Serve, Shutdown) that the
// teacher's own acceptConnections/GracefulShutdown pair already imitates.
//
// Unlike master.Master, Server does not manage a pool of OS child
// processes with static/dynamic/ondemand scaling: it pre-allocates a
// fixed number of goroutine-backed connection slots and rotates accepted
// connections through them (internal/worker.Pool), per the connection
// engine's own concurrency model.
type Server struct {
	cfg Config
	obs observe.Observer

	mu      sync.Mutex
	ln      net.Listener
	pool    *worker.Pool
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewServer validates cfg and returns a Server ready to Serve or
// ListenAndServe. obs may be nil, in which case connection errors are
// logged through slog.Default().
func NewServer(cfg Config, obs observe.Observer) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = observe.NewSlogObserver(nil)
	}
	return &Server{cfg: cfg, obs: obs}, nil
}

// ListenAndServe opens a TCP listener on cfg.BindAddress:cfg.Port and
// serves it. It blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("fcgid: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the connection-rotation loop over an already-open listener.
// It blocks until Shutdown is called or ln.Accept fails for a reason
// other than the listener being closed by Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("fcgid: Server.Serve called twice")
	}
	s.started = true
	s.ln = ln
	s.cancel = cancel
	s.done = make(chan struct{})
	pool := worker.NewPool(s.cfg.MaxConcurrentRequests, s.cfg.Handler, s.cfg.ConnectionTimeout, s.cfg.MaxHeaderSize, s.obs)
	s.pool = pool
	s.mu.Unlock()

	slog.Info("fcgid server listening",
		slog.String("addr", ln.Addr().String()),
		slog.Int("max_concurrent_requests", s.cfg.MaxConcurrentRequests),
		slog.Int("listen_backlog", s.cfg.ListenBacklog),
	)

	defer close(s.done)
	return pool.Serve(ctx, ln)
}

// Shutdown stops accepting new connections and waits for every in-flight
// connection to finish its current request and close, mirroring
// master.Master.GracefulShutdown/Wait and, in turn, net/http.Server's
// Shutdown convention. If ctx is cancelled first, Shutdown returns
// ctx.Err() without waiting further; in-flight connections still run to
// completion in the background.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	ln := s.ln
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if ln != nil {
		_ = ln.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the server's current connection-slot occupancy. Before
// Serve/ListenAndServe has been called it reports only MaxConcurrent, with
// every count zero.
func (s *Server) Stats() worker.Stats {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return worker.Stats{MaxConcurrent: s.cfg.MaxConcurrentRequests}
	}
	return pool.Snapshot()
}

// The following four methods satisfy fcgidstatus.Reporter, letting a
// Server feed a fcgidstatus.Handler without fcgidstatus importing the
// worker package directly.

func (s *Server) MaxConcurrentRequests() int { return s.cfg.MaxConcurrentRequests }
func (s *Server) ActiveSlotCount() int       { return s.Stats().ActiveSlots }
func (s *Server) IdleSlotCount() int         { return s.Stats().IdleSlots }
func (s *Server) AcceptedConnCount() uint64  { return s.Stats().AcceptedConns }
