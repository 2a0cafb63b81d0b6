// Package gateway exposes the tool execution engine to the host runtime over
// WebSocket. One inbound frame is one request envelope; exactly one outbound
// frame comes back, tagged with the channel that received it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/pkg/dispatcher"
)

// Config holds server configuration.
type Config struct {
	Port    int
	Token   string // optional shared token; empty disables auth
	Metrics *metrics.Metrics

	// Per-connection limits; zero means defaults.
	RequestsPerMinute int
	MaxInFlight       int
}

// Server accepts host runtime connections and routes requests through the
// dispatcher.
type Server struct {
	port       int
	token      string
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics

	requestsPerMinute int
	maxInFlight       int

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	inFlight sync.WaitGroup
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rateLimiter

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

func (c *client) send(frame interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// NewServer creates a gateway server.
func NewServer(cfg Config, d *dispatcher.Dispatcher) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	return &Server{
		port:              cfg.Port,
		token:             cfg.Token,
		dispatcher:        d,
		metrics:           cfg.Metrics,
		requestsPerMinute: cfg.RequestsPerMinute,
		maxInFlight:       cfg.MaxInFlight,
		clients:           make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	log.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Handler returns the HTTP handler for the gateway endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	log.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	clear(s.clients)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id, _ := gonanoid.New()
	c := &client{
		id:      id,
		conn:    conn,
		limiter: newRateLimiter(s.requestsPerMinute, s.maxInFlight),
	}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	log.Info().Str("client_id", id).Msg("Client connected")

	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()

	conn.Close()
	log.Info().Str("client_id", id).Msg("Client disconnected")
}

func (s *Server) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Str("client_id", c.id).Err(err).Msg("Unexpected client close")
			}
			return
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(data, &envelope); err != nil {
			frame := Frame(dispatcher.Outcome{
				Kind:    dispatcher.KindError,
				Payload: map[string]interface{}{"error": "invalid request: " + err.Error()},
			})
			if err := c.send(frame); err != nil {
				return
			}
			continue
		}

		if ok, reason := c.limiter.admit(); !ok {
			log.Warn().Str("client_id", c.id).Str("reason", reason).Msg("Request refused")
			frame := Frame(dispatcher.Outcome{
				Kind:     dispatcher.KindError,
				Payload:  map[string]interface{}{"error": reason},
				Envelope: envelope,
			})
			if err := c.send(frame); err != nil {
				return
			}
			continue
		}

		// Each request is processed independently and concurrently.
		c.limiter.begin()
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			defer c.limiter.end()
			outcome := s.dispatcher.Dispatch(context.Background(), dispatcher.FromEnvelope(envelope))
			if err := c.send(Frame(outcome)); err != nil {
				log.Warn().Str("client_id", c.id).Err(err).Msg("Failed to write response")
			}
		}()
	}
}
