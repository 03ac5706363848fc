package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/clinsim/voicegate/internal/session"
)

const (
	// defaultReadLimit accommodates base64 audio chunks in doctor_audio.
	defaultReadLimit = 4 << 20

	writeTimeout = 10 * time.Second
)

// Handler receives validated, join-gated frames. The orchestrator implements
// it.
type Handler interface {
	// HandleJoin runs after auth passed. An error rejects the join; the
	// connection stays open.
	HandleJoin(ctx context.Context, c *Client, msg *Inbound) error

	// HandleMessage receives every post-join frame except ping.
	HandleMessage(ctx context.Context, c *Client, msg *Inbound)

	// HandleDisconnect runs once when a joined connection drops.
	HandleDisconnect(c *Client)

	// HandleAuthDenied records a rejected join for auditing.
	HandleAuthDenied(sessionID, userID string)
}

// Client is one WebSocket connection with its join state. It satisfies
// session.Client so the Manager can broadcast to it.
type Client struct {
	conn    *websocket.Conn
	connID  string
	writeMu sync.Mutex

	mu        sync.Mutex
	joined    bool
	sessionID string
	userID    string
	role      session.Role
}

var _ session.Client = (*Client)(nil)

// ConnID returns the connection's unique ID.
func (c *Client) ConnID() string { return c.connID }

// UserID returns the joined user ID, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SessionID returns the joined session ID, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Role returns the joined role, or "".
func (c *Client) Role() session.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Joined reports whether the join handshake completed.
func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// SetJoined marks the handshake complete.
func (c *Client) SetJoined(sessionID, userID string, role session.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = true
	c.sessionID = sessionID
	c.userID = userID
	c.role = role
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	c.sessionID = ""
	c.userID = ""
	c.role = ""
}

// Send writes one text frame. Safe for concurrent use.
func (c *Client) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// SendJSON marshals msg and writes it as one text frame.
func (c *Client) SendJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Chaos injects inbound-frame faults for resilience testing. Never enabled in
// production.
type Chaos struct {
	DropProbability float64
	Latency         time.Duration
}

// Server is the WebSocket endpoint. Mount it at /ws/voice.
type Server struct {
	handler   Handler
	auth      *Authenticator
	chaos     Chaos
	readLimit int64
}

// Option configures a Server.
type Option func(*Server)

// WithChaos enables inbound fault injection.
func WithChaos(c Chaos) Option {
	return func(s *Server) { s.chaos = c }
}

// WithReadLimit overrides the per-frame read limit.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// NewServer creates a Server.
func NewServer(handler Handler, auth *Authenticator, opts ...Option) *Server {
	s := &Server{handler: handler, auth: auth, readLimit: defaultReadLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and runs the connection's read loop until it
// drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	c := &Client{conn: conn, connID: uuid.NewString()}
	slog.Debug("connection opened", "conn_id", c.connID, "remote", r.RemoteAddr)

	s.readLoop(r.Context(), c)

	if c.Joined() {
		s.handler.HandleDisconnect(c)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Debug("connection closed", "conn_id", c.connID)
}

func (s *Server) readLoop(ctx context.Context, c *Client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		if s.chaos.DropProbability > 0 && rand.Float64() < s.chaos.DropProbability {
			slog.Debug("chaos: dropped inbound frame", "conn_id", c.connID)
			continue
		}
		if s.chaos.Latency > 0 {
			time.Sleep(s.chaos.Latency)
		}

		msg, err := ParseInbound(data)
		if err != nil {
			slog.Debug("rejected inbound frame", "conn_id", c.connID, "err", err)
			_ = c.SendJSON(NewError(err.Error()))
			continue
		}

		switch {
		case msg.Type == TypePing:
			_ = c.SendJSON(Pong{Type: TypePong})

		case msg.Type == TypeJoin:
			s.handleJoin(ctx, c, msg)

		case !c.Joined():
			// Join-first contract: anything else before join is discarded.
			_ = c.SendJSON(NewError("join required"))

		default:
			s.handler.HandleMessage(ctx, c, msg)
		}
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Client, msg *Inbound) {
	if c.Joined() {
		_ = c.SendJSON(NewError("already joined"))
		return
	}
	if err := s.auth.Authenticate(ctx, msg.AuthToken, msg.UserID); err != nil {
		slog.Warn("join denied",
			"conn_id", c.connID, "session_id", msg.SessionID, "user_id", msg.UserID, "err", err)
		s.handler.HandleAuthDenied(msg.SessionID, msg.UserID)
		_ = c.SendJSON(NewError(ErrUnauthorizedToken.Error()))
		c.conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	c.SetJoined(msg.SessionID, msg.UserID, session.Role(msg.Role))
	if err := s.handler.HandleJoin(ctx, c, msg); err != nil {
		slog.Warn("join rejected", "conn_id", c.connID, "session_id", msg.SessionID, "err", err)
		c.reset()
		_ = c.SendJSON(NewError(err.Error()))
		return
	}
	_ = c.SendJSON(Joined{
		Type:         TypeJoined,
		SessionID:    msg.SessionID,
		Role:         msg.Role,
		InsecureMode: s.auth.Insecure(),
	})
}
