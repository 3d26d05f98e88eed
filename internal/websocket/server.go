package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local use only
	},
}

// Config configures the server
type Config struct {
	Addr    string // host:port, port 0 picks a free one
	AuthKey string // required in X-Auth-Key when set
	Logger  *zap.Logger

	// ErrorCode classifies failed calls for RPCResponse.Code
	ErrorCode func(error) string
}

// Server exposes an RPC target over websocket plus health and metrics
// endpoints
type Server struct {
	cfg        Config
	port       int
	router     *Router
	logger     *zap.Logger
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	httpServer *http.Server
}

// NewServer creates a server routing calls to the exported methods of app
func NewServer(app interface{}, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		router:  NewRouter(app),
		logger:  logger.Named("websocket"),
		clients: make(map[string]*Client),
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start listens on the configured address and serves in the background.
// It returns the bound port.
func (s *Server) Start(ctx context.Context) (int, error) {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.port = listener.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.String("addr", listener.Addr().String()), zap.Int("methods", s.router.Methods()))
	return s.port, nil
}

// Stop closes every client and shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthKey != "" && r.Header.Get("X-Auth-Key") != s.cfg.AuthKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn)

	s.clientsMu.Lock()
	s.clients[client.ID] = client
	metrics.SetWebsocketClients(len(s.clients))
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", zap.String("client", client.ID))

	go client.WritePump()
	s.readPump(r.Context(), client)
}

// readPump reads requests until the peer goes away. Calls run concurrently;
// responses carry the request id.
func (s *Server) readPump(ctx context.Context, client *Client) {
	var calls sync.WaitGroup
	defer func() {
		calls.Wait()
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		metrics.SetWebsocketClients(len(s.clients))
		s.clientsMu.Unlock()
		client.Close()
		s.logger.Debug("client disconnected", zap.String("client", client.ID))
	}()

	client.prepareRead()
	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("read error", zap.String("client", client.ID), zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn("invalid message", zap.String("client", client.ID), zap.Error(err))
			continue
		}
		if msg.Kind != KindRequest || msg.Request == nil {
			continue
		}

		calls.Add(1)
		go func(req *RPCRequest) {
			defer calls.Done()
			s.handleRPCRequest(ctx, client, req)
		}(msg.Request)
	}
}

func (s *Server) handleRPCRequest(ctx context.Context, client *Client, req *RPCRequest) {
	start := time.Now()
	result, err := s.router.Call(ctx, req.Method, req.Params)

	label := req.Method
	if errors.Is(err, ErrMethodNotFound) {
		label = "unknown"
	}
	metrics.RecordRPCCall(label, time.Since(start), err == nil)

	resp := &RPCResponse{ID: req.ID}
	if err != nil {
		resp.Error = err.Error()
		switch {
		case errors.Is(err, ErrMethodNotFound):
			resp.Code = "method_not_found"
		case s.cfg.ErrorCode != nil:
			resp.Code = s.cfg.ErrorCode(err)
		}
		s.logger.Debug("rpc failed", zap.String("method", req.Method), zap.String("code", resp.Code), zap.Error(err))
	} else {
		resp.Result = result
	}

	if err := client.SendResponse(resp); err != nil {
		s.logger.Warn("failed to send response", zap.String("client", client.ID), zap.Error(err))
	}
}

// BroadcastEvent pushes an event to every client
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			s.logger.Debug("dropped event", zap.String("client", client.ID), zap.String("event", eventType), zap.Error(err))
		}
	}
}

// GetPort returns the bound port
func (s *Server) GetPort() int {
	return s.port
}
