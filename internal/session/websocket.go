package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mihretab/portfolio/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// InputLimiter throttles visitor input by key. *middleware.RateLimiter
// satisfies it.
type InputLimiter interface {
	Allow(key string) bool
}

// WebSocketHandler streams conversation state to the chat widget and
// accepts visitor input over the same socket.
type WebSocketHandler struct {
	hub            *Hub
	limiter        InputLimiter
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler. Input messages are
// charged to limiter under the client IP; a nil limiter never throttles.
func NewWebSocketHandler(hub *Hub, limiter InputLimiter, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// clientMessage is what the widget sends.
type clientMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Reduced bool   `json:"reduced,omitempty"`
}

// serverMessage is what the widget receives.
type serverMessage struct {
	Type     string `json:"type"`
	Snapshot *State `json:"snapshot,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	ip := identity.IPFromRequest(r)
	slog.Info("Chat WebSocket request", "visitor_id", visitorID, "session_id", sessionID, "ip", ip)

	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = originPatterns(h.allowedOrigins)
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	// Cancelling a pending read drops the connection without a close frame,
	// so cancel must run after the Close below.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The only Close of the socket; every exit path sets the status here.
	closeStatus, closeReason := websocket.StatusNormalClosure, "disconnected"
	defer func() {
		if closeErr := ws.Close(closeStatus, closeReason); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	conv, err := h.hub.Open(visitorID, sessionID, ReducedMotionFromRequest(r))
	if err != nil {
		closeStatus, closeReason = websocket.StatusGoingAway, "shutting down"
		if errors.Is(err, ErrTooManyConversations) {
			closeStatus, closeReason = websocket.StatusTryAgainLater, "too many conversations"
		}
		_ = writeMessage(ctx, ws, serverMessage{Type: "error", Error: closeReason})
		return
	}

	updates, cancelSub := conv.Subscribe()
	defer cancelSub()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, conv, ip)
	}()

	if h.writeLoop(ctx, ws, updates, conv) {
		closeReason = "conversation closed"
	}
	slog.Info("Chat WebSocket ended", "visitor_id", visitorID, "session_id", sessionID, "conversation_id", conv.ID)
}

// writeLoop pushes every state change until the subscription closes or the
// socket goes away. It reports whether the conversation was closed. The
// conversation itself survives a disconnect.
func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, updates <-chan State, conv *Conversation) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case state, ok := <-updates:
			if !ok {
				return true
			}
			if err := writeMessage(ctx, ws, serverMessage{Type: "snapshot", Snapshot: &state}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "conversation_id", conv.ID)
				}
				return false
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conv *Conversation, ip string) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
				slog.Debug("WebSocket closed", "conversation_id", conv.ID)
			default:
				slog.Warn("WebSocket read error", "error", err, "conversation_id", conv.ID)
			}
			return
		}

		switch msg.Type {
		case "input":
			if h.limiter != nil && !h.limiter.Allow(ip) {
				h.reject(ctx, ws, "rate limit exceeded")
				continue
			}
			if !conv.Submit(msg.Text) && strings.TrimSpace(msg.Text) != "" {
				h.reject(ctx, ws, "input not accepted")
			}
		case "motion":
			conv.SetReducedMotion(msg.Reduced)
		case "ping":
			if err := writeMessage(ctx, ws, serverMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			slog.Debug("Ignoring unknown WebSocket message", "type", msg.Type, "conversation_id", conv.ID)
		}
	}
}

func (h *WebSocketHandler) reject(ctx context.Context, ws *websocket.Conn, reason string) {
	if err := writeMessage(ctx, ws, serverMessage{Type: "error", Error: reason}); err != nil {
		slog.Debug("Failed to send input error", "error", err)
	}
}

func writeMessage(ctx context.Context, ws *websocket.Conn, msg serverMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, msg)
}

// originPatterns converts configured origins to host patterns accepted by
// websocket.AcceptOptions.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
