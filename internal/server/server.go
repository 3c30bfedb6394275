// Package server hosts the WebSocket transport of the chat relay: it
// upgrades connections, pushes every inbound frame through the access gate,
// persists accepted sends through the directory and hands them to the relay,
// and delivers relayed envelopes to locally subscribed connections.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/chat-relay/internal/auth"
	"github.com/adred-codev/chat-relay/internal/broker"
	"github.com/adred-codev/chat-relay/internal/config"
	"github.com/adred-codev/chat-relay/internal/directory"
	"github.com/adred-codev/chat-relay/internal/gate"
	"github.com/adred-codev/chat-relay/internal/metrics"
	"github.com/adred-codev/chat-relay/internal/relay"
	"github.com/adred-codev/chat-relay/internal/workers"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer.
	pongWait = 30 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// relayPublisher is the slice of the relay the send path needs. Tests
// substitute a recording fake.
type relayPublisher interface {
	Publish(relay.Envelope) error
}

// Server wires the gate, broker, relay and directory together behind the
// WebSocket endpoint.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	gate       *gate.Gate
	directory  directory.Service
	publisher  relayPublisher
	subscriber *relay.Subscriber
	broker     *broker.Broker
	registry   *Registry
	pool       *workers.Pool

	busClose func()

	listener   net.Listener
	httpServer *http.Server

	clients        sync.Map // *Client → struct{}
	clientSeq      int64
	connectionsSem chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32

	startTime time.Time
}

// New constructs a fully wired server: directory client, bus connection,
// relay publisher/subscriber and local broker.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		registry:       NewRegistry(),
		broker:         broker.New(logger),
		pool:           workers.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize, logger),
		connectionsSem: make(chan struct{}, cfg.MaxConnections),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	s.directory = directory.NewHTTPClient(cfg.DirectoryURL, cfg.DirectoryTimeout, logger)
	s.gate = gate.New(auth.NewValidator(cfg.JWTSecret), s.directory, logger)

	// Every envelope from the bus goes through the worker pool to the
	// broker; a slow local fan-out never stalls the bus receive loop.
	// Keying by room pins same-room envelopes to one worker, so each
	// connection sees a room's messages in bus receive order.
	onEnvelope := func(env relay.Envelope) {
		s.pool.Submit(env.RoomID, func() {
			s.broker.Deliver(env)
		})
	}

	busConn, err := relay.ConnectBus(
		relay.BusConfig{
			URL:              cfg.NatsURL,
			MaxReconnects:    cfg.BusMaxReconnects,
			ReconnectWait:    cfg.BusReconnectWait,
			MaxReconnectWait: cfg.BusMaxReconnectWait,
		},
		logger,
		func(err error) {
			if sub := s.subscriber; sub != nil {
				sub.HandleDisconnect(err)
			}
		},
		func() {
			if sub := s.subscriber; sub != nil {
				sub.HandleReconnect()
			}
		},
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create server: %w", err)
	}
	s.busClose = busConn.Close
	s.publisher = relay.NewPublisher(busConn, cfg.PublishTimeout, logger)
	s.subscriber = relay.NewSubscriber(busConn, onEnvelope, logger)

	logger.Info().
		Str("addr", cfg.Addr).
		Int("max_connections", cfg.MaxConnections).
		Int("worker_count", cfg.WorkerCount).
		Msg("Server initialized")

	return s, nil
}

// Start begins listening and launches the relay receive loop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.pool.Start(s.ctx)

	if err := s.subscriber.Start(); err != nil {
		listener.Close()
		s.cancel()
		s.pool.Stop()
		return fmt.Errorf("start relay subscriber: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.wg.Add(1)
	go s.collectWorkerStats()

	s.logger.Info().Str("address", s.cfg.Addr).Msg("Server listening")
	return nil
}

func (s *Server) collectWorkerStats() {
	defer s.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			metrics.SetWorkerQueueDepth(s.pool.QueueDepth())
			metrics.SetWorkerTasksDropped(s.pool.DroppedTasks())
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.connectionsSem <- struct{}{}:
	default:
		metrics.ConnectionFailed()
		s.logger.Warn().
			Int64("current_connections", s.registry.Count()).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		metrics.ConnectionFailed()
		s.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	c := newClient(s.ctx, atomic.AddInt64(&s.clientSeq, 1), conn,
		s.cfg.SendQueueSize, rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst)

	s.clients.Store(c, struct{}{})
	s.registry.Add(c.id)
	metrics.ConnectionOpened()

	s.logger.Info().
		Int64("conn_id", c.id).
		Int64("session_count", s.registry.Count()).
		Msg("Connection established")

	go s.writePump(c)
	go s.readPump(c)
}

// disconnectClient tears down one connection's state: its context, its
// registry entry and its broker subscriptions. Other connections and the
// relay loop are untouched.
func (s *Server) disconnectClient(c *Client, reason string) {
	c.close()

	if _, loaded := s.clients.LoadAndDelete(c); !loaded {
		return
	}
	s.registry.Remove(c.id)
	s.broker.DropConnection(c.id)
	metrics.ConnectionClosed()
	<-s.connectionsSem

	s.logger.Info().
		Int64("conn_id", c.id).
		Str("identity", c.identity).
		Str("reason", reason).
		Dur("connection_duration", time.Since(c.connectedAt)).
		Int64("session_count", s.registry.Count()).
		Msg("Connection closed")
}

func (s *Server) readPump(c *Client) {
	reason := "read_error"
	defer func() {
		s.disconnectClient(c, reason)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			if err := s.handleFrame(c, msg); err != nil {
				if err == errClientDisconnect {
					reason = "client_disconnect"
				} else {
					reason = "protocol_error"
					s.logger.Warn().
						Int64("conn_id", c.id).
						Err(err).
						Msg("Closing connection on protocol error")
				}
				return
			}
		case ws.OpClose:
			reason = "client_disconnect"
			return
		}
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, frame); err != nil {
				return
			}
			metrics.FrameSent()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Shutdown drains connections and stops the relay loop and worker pool.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		s.listener.Close()
	}

	s.subscriber.Stop()

	gracePeriod := 10 * time.Second
	deadline := time.Now().Add(gracePeriod)
	for s.registry.Count() > 0 && time.Now().Before(deadline) {
		s.logger.Info().
			Int64("remaining_connections", s.registry.Count()).
			Msg("Waiting for connections to drain")
		time.Sleep(time.Second)
	}

	s.clients.Range(func(key, _ any) bool {
		if c, ok := key.(*Client); ok {
			c.close()
		}
		return true
	})

	s.cancel()
	s.pool.Stop()
	s.wg.Wait()

	if s.busClose != nil {
		s.busClose()
	}

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
