package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantumclaw/quantumclaw/internal/agent"
	"github.com/quantumclaw/quantumclaw/internal/approvals"
	"github.com/quantumclaw/quantumclaw/internal/bus"
	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/permissions"
	"github.com/quantumclaw/quantumclaw/internal/store"
	"github.com/quantumclaw/quantumclaw/internal/tools"
	"github.com/quantumclaw/quantumclaw/internal/trust"
	"github.com/quantumclaw/quantumclaw/pkg/protocol"
)

var connGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "goclaw_gateway_ws_clients",
	Help: "Number of currently connected gateway WebSocket clients.",
})

func init() {
	prometheus.MustRegister(connGauge)
}

// Server is the dashboard/SDK-facing gateway: a single HTTP listener
// exposing /health, /metrics, and a /ws endpoint carrying the JSON-RPC
// protocol defined in pkg/protocol.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	agents   *agent.Router
	sessions store.SessionStore
	tools    *tools.Registry
	router   *MethodRouter

	policyEngine   *permissions.PolicyEngine
	pairingService store.PairingStore
	approvals      *approvals.Store
	trust          *trust.Kernel

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, agents *agent.Router, sess store.SessionStore, toolsReg ...*tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		agents:   agents,
		sessions: sess,
		clients:  make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	if len(toolsReg) > 0 && toolsReg[0] != nil {
		s.tools = toolsReg[0]
	}

	// rate_limit_rpm > 0  → enabled at that RPM
	// rate_limit_rpm == 0 → disabled (default, backward compat)
	// rate_limit_rpm < 0  → disabled explicitly
	rpm := cfg.Gateway.DashboardRateRPM
	if rpm == 0 {
		rpm = cfg.Gateway.RateLimitRPM
	}
	s.rateLimiter = NewRateLimiter(rpm, 10)
	s.rateLimiter.SetLockoutPolicy(
		cfg.Gateway.LockoutThreshold,
		time.Duration(cfg.Gateway.LockoutWindowSec)*time.Second,
		time.Duration(cfg.Gateway.LockoutDurationSec)*time.Second,
	)

	s.router = NewMethodRouter(s)
	return s
}

// RateLimiter returns the server's rate limiter for use by method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// checkOrigin validates WebSocket connection origin against the allowed origins whitelist.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true // no config = allow all (backward compat)
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients (CLI, SDK, channels)
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// SetPolicyEngine sets the permission policy engine for RPC method authorization.
func (s *Server) SetPolicyEngine(pe *permissions.PolicyEngine) { s.policyEngine = pe }

// SetPairingService sets the pairing service for channel authentication.
func (s *Server) SetPairingService(ps store.PairingStore) { s.pairingService = ps }

// SetApprovals sets the approval queue surfaced by exec.approval.* methods.
func (s *Server) SetApprovals(a *approvals.Store) { s.approvals = a }

// SetTrustKernel sets the trust kernel surfaced by the status method.
func (s *Server) SetTrustKernel(k *trust.Kernel) { s.trust = k }

// requireOwner reports whether c is allowed to call owner-only methods.
func (s *Server) requireOwner(c *Client) bool {
	if s.policyEngine == nil {
		return true
	}
	return s.policyEngine.IsOwner(c.ownerID)
}

// authenticate validates the bearer token (and PIN, if configured) for an
// inbound HTTP/WS request. Token may arrive as an Authorization: Bearer
// header or a ?token= query parameter (for browsers that can't set
// headers on a WebSocket upgrade).
func (s *Server) authenticate(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true // no token configured: auth disabled (dev mode)
	}

	supplied := bearerFromRequest(r)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
		return false
	}

	if pin := s.cfg.Gateway.PIN; pin != "" {
		suppliedPIN := r.Header.Get("X-Dashboard-PIN")
		if suppliedPIN == "" {
			suppliedPIN = r.URL.Query().Get("pin")
		}
		if subtle.ConstantTimeCompare([]byte(suppliedPIN), []byte(pin)) != 1 {
			return false
		}
	}
	return true
}

func bearerFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// withAuth wraps a handler with IP lockout tracking, rate limiting, and
// bearer/PIN authentication — the gate every non-health HTTP endpoint goes
// through.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if s.rateLimiter.IsLockedOut(ip) {
			http.Error(w, "locked out, try again later", http.StatusTooManyRequests)
			return
		}
		if !s.rateLimiter.Allow(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if !s.authenticate(r) {
			s.rateLimiter.RecordFailure(ip)
			slog.Warn("security.auth_rejected", "ip", ip, "path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.rateLimiter.ClearFailures(ip)
		next(w, r)
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.withAuth(s.handleWebSocket))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections. On
// EADDRINUSE it retries on the next cfg.Gateway.PortRetryCount ports
// (default 20) before giving up, so a stale process on the configured
// port doesn't wedge every future restart.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	retries := s.cfg.Gateway.PortRetryCount
	if retries <= 0 {
		retries = 20
	}

	var ln net.Listener
	var err error
	port := s.cfg.Gateway.Port
	for attempt := 0; attempt <= retries; attempt++ {
		addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, port+attempt)
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			port += attempt
			break
		}
		if !isAddrInUse(err) {
			return fmt.Errorf("gateway listen: %w", err)
		}
		slog.Warn("gateway port in use, retrying next port", "port", port+attempt)
	}
	if ln == nil {
		return fmt.Errorf("gateway: no free port found after %d retries: %w", retries, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	slog.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return strings.Contains(opErr.Err.Error(), "address already in use")
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	client.ownerID = r.URL.Query().Get("owner")
	client.authed = true
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d,"clients":%d}`, protocol.ProtocolVersion, s.clientCount())
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	connGauge.Set(float64(len(s.clients)))

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return // internal event, don't forward to WS clients
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	connGauge.Set(float64(len(s.clients)))
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
