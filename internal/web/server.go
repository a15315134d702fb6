// Package web serves the dashboard WebSocket endpoint: fleet events mirrored
// to connected clients, with per-client agent filtering.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// Defaults when the web config leaves host/port unset.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8700
)

// Server is the dashboard WebSocket server.
type Server struct {
	cfg *config.WebConfig
	mgr *fleet.Manager

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

// NewServer creates a server over the fleet manager's bus.
func NewServer(cfg *config.WebConfig, mgr *fleet.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Local dashboard; the bind address is the access control.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	host := s.cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := s.cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.Addr(), Handler: s.buildMux()}

	slog.Info("web.starting", "addr", s.httpServer.Addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":%q,"protocol":%d}`, s.mgr.State(), protocol.ProtocolVersion)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("web.upgrade_failed", "error", err)
		return
	}

	c := newClient(conn)
	s.registerClient(c)
	defer func() {
		s.unregisterClient(c)
		c.close()
	}()

	// Greet with the current fleet snapshot so the dashboard renders
	// immediately instead of waiting for the next status change.
	c.send(protocol.NewEventFrame(protocol.EventFleetStatus, s.mgr.Status()))

	c.run(r.Context())
}

func (s *Server) registerClient(c *client) {
	c.sub = s.mgr.Bus().Subscribe(nil, 0, func(ev bus.Event) {
		if !c.wants(eventAgent(ev)) {
			return
		}
		c.send(protocol.NewEventFrame(ev.Topic, ev.Payload))
	})

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("web.client_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if c.sub != nil {
		c.sub.Close()
	}
	slog.Info("web.client_disconnected", "id", c.id)
}

// eventAgent extracts the agent name an event concerns, or "" for fleet-wide
// events that reach every client.
func eventAgent(ev bus.Event) string {
	switch p := ev.Payload.(type) {
	case bus.AgentUpdatedPayload:
		return p.QualifiedName
	case bus.ScheduleTriggeredPayload:
		return p.AgentName
	case bus.JobOutputPayload:
		return p.AgentName
	case bus.JobCreatedPayload:
		return p.Job.Agent
	case bus.JobCompletedPayload:
		return p.Job.Agent
	case bus.JobFailedPayload:
		return p.Job.Agent
	case bus.JobCancelledPayload:
		return p.Job.Agent
	default:
		return ""
	}
}

// StartTestServer listens on a random local port and returns the address and
// a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: s.buildMux()}
	addr = ln.Addr().String()
	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		go s.httpServer.Serve(ln)
	}
	return addr, start
}
