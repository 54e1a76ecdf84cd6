// Package realtime streams audit events to back-office dashboards over
// WebSocket. A connection is admitted only with a valid access token; the
// check happens before the upgrade so a rejected client never holds a socket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512
)

// Verifier validates access tokens. *posauth.Engine implements it.
type Verifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(token string) (*jwt.Claims, error)

func (f VerifierFunc) VerifyAccess(token string) (*jwt.Claims, error) { return f(token) }

// Authorizer decides role requirements. *posauth.Engine and
// *permission.Hierarchies implement it.
type Authorizer interface {
	IsAuthorized(current, required string) bool
}

// Config tunes a Hub. RequiredRole, when set, needs an Authorizer.
type Config struct {
	RequiredRole string
	Authorizer   Authorizer
	SendBuffer   int
	CheckOrigin  func(r *http.Request) bool
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Message is the frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data audit.Event `json:"data"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	accountID string
}

// Hub is an http.Handler that accepts subscribers and an audit.Sink that
// broadcasts to them. Slow subscribers whose buffer fills are disconnected.
type Hub struct {
	verifier Verifier
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns a hub admitting tokens accepted by v.
func NewHub(v Verifier, cfg Config) (*Hub, error) {
	if v == nil {
		return nil, errors.New("realtime: verifier is required")
	}
	if cfg.RequiredRole != "" && cfg.Authorizer == nil {
		return nil, errors.New("realtime: required role needs an authorizer")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{
		verifier: v,
		cfg:      cfg,
		logger:   cfg.Logger.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Authenticate admits a handshake request. The token is read from the
// Authorization header, or from the token query parameter for browsers that
// cannot set headers on a WebSocket handshake.
func (h *Hub) Authenticate(r *http.Request) (*jwt.Claims, error) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, posauth.ErrInvalidAccessToken
	}

	claims, err := h.verifier.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	if h.cfg.RequiredRole != "" && !h.cfg.Authorizer.IsAuthorized(claims.Role, h.cfg.RequiredRole) {
		return nil, posauth.ErrForbidden
	}
	return claims, nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Authenticate(r)
	if err != nil {
		h.logger.Debug("subscriber rejected", zap.Error(err))
		middleware.WriteError(w, h.logger, err)
		return
	}

	if h.isClosed() {
		http.Error(w, "realtime hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer), accountID: claims.Subject}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("subscriber connected", zap.String("account_id", c.accountID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()
	h.readPump(c)
	h.unregister(c)
	<-done
	h.logger.Info("subscriber disconnected", zap.String("account_id", c.accountID))
}

// Emit broadcasts event to every subscriber.
func (h *Hub) Emit(_ context.Context, event audit.Event) {
	payload, err := json.Marshal(Message{Type: "audit", Data: event})
	if err != nil {
		h.logger.Error("encode audit event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow subscriber", zap.String("account_id", c.accountID))
			h.removeLocked(c)
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.cfg.Metrics.ClientConnected(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send exactly once; the write pump then closes the socket.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.cfg.Metrics.ClientConnected(-1)
}

// readPump discards client frames and returns when the connection fails.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
