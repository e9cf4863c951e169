// Package server exposes the mixlab engine over websockets: each connection
// becomes an engine session whose commands flow in over the socket and whose
// authoritative change events and performance snapshots flow back out.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lwp001/mixlab/engine"
	"github.com/lwp001/mixlab/sym"
)

// Config carries server options.
type Config struct {
	Port           int
	AllowedOrigins []string
	// CommandRate / CommandBurst bound per-connection command throughput.
	CommandRate  rate.Limit
	CommandBurst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port: 8420,
		AllowedOrigins: []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		},
		CommandRate:  120,
		CommandBurst: 30,
	}
}

// Server accepts websocket sessions and bridges them to the engine.
type Server struct {
	engine *engine.Handle
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpServer *http.Server
}

// New creates a server bridging sessions to the given engine.
func New(eng *engine.Handle, cfg Config, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.CommandRate <= 0 {
		cfg.CommandRate = DefaultConfig().CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = DefaultConfig().CommandBurst
	}

	return &Server{
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Routes builds the server's HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Start runs the HTTP server until Shutdown. It also starts the performance
// broadcaster.
func (s *Server) Start() error {
	s.startPerformanceBroadcaster()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Routes()}

	s.logger.Infow(sym.Session+" Server listening", "addr", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and tears down the open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()
	for _, client := range clients {
		client.close()
	}

	s.wg.Wait()
	return err
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the websocket origin against the configured
// allow-list. Requests with no origin header (direct websocket clients,
// tests) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw(sym.Session+" WebSocket upgrade failed", "error", err)
		return
	}

	session, state, events, err := s.engine.Connect()
	if err != nil {
		s.logger.Warnw(sym.Session+" Engine connect failed", "error", err)
		conn.WriteJSON(ServerMessage{Type: MessageError, Error: err.Error()})
		conn.Close()
		return
	}

	client := newClient(s, conn, session, events)

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	// the snapshot goes out first, before any relayed event
	client.enqueue(ServerMessage{
		Type:    MessageHello,
		Session: session.ID(),
		State:   &state,
	})

	s.wg.Add(2)
	go client.writePump()
	go client.readPump()

	s.logger.Infow(sym.Session+" Client connected",
		"client_id", client.id,
		"session", session.ID(),
		"remote", r.RemoteAddr,
	)
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

// broadcast sends a message to all connected clients, skipping any whose
// send buffer is full.
func (s *Server) broadcast(msg ServerMessage) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.tryEnqueue(msg) {
			sent++
		}
	}
	return sent
}

// startPerformanceBroadcaster relays the engine's latest performance
// snapshot to all clients. The watch is latest-value, so a slow loop simply
// skips intermediates.
func (s *Server) startPerformanceBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.engine.Performance().Changed():
				info := s.engine.Performance().Latest()
				if info == nil {
					continue
				}

				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()
				if !hasClients {
					continue
				}

				sent := s.broadcast(ServerMessage{Type: MessagePerformance, Performance: info})
				s.logger.Debugw(sym.Perf+" Broadcasted performance snapshot",
					"tick_avg", info.Tick.Avg,
					"overruns", info.Tick.Overruns,
					"clients", sent,
				)
			}
		}
	}()
}
