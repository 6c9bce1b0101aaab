// Package ws is the browser-facing WebSocket gateway. It authenticates each
// connection against the session store, checks group membership, maintains
// the presence registry, and bridges frames between the browser and the
// NATS group subjects in both directions.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/travelbuddy/chat-app/internal/chat"
	"github.com/travelbuddy/chat-app/internal/group"
	"github.com/travelbuddy/chat-app/internal/messaging"
	"github.com/travelbuddy/chat-app/internal/metrics"
	"github.com/travelbuddy/chat-app/internal/presence"
	"github.com/travelbuddy/chat-app/internal/ratelimit"
	"github.com/travelbuddy/chat-app/internal/session"
)

// OnlineFrame is the gateway-local frame carrying presence counts to the
// browser alongside regular chat events.
type OnlineFrame struct {
	Type  string `json:"type"` // always "ONLINE"
	Count int    `json:"count"`
}

// TypeOnline is the discriminator for OnlineFrame.
const TypeOnline = "ONLINE"

// GatewayConfig holds tunable parameters for the gateway.
type GatewayConfig struct {
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultGatewayConfig returns sensible production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxConnections: 100000,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Gateway upgrades HTTP connections to WebSocket and runs one read loop per
// connection. Fan-out is shared: the first connection for a group subscribes
// the gateway to that group's NATS subjects, and the last one to leave
// unsubscribes.
type Gateway struct {
	config   GatewayConfig
	conns    *ConnectionManager
	sessions *session.Store
	members  *group.Store
	registry *presence.Registry
	broker   *messaging.Client
	limiter  *ratelimit.Limiter
	done     chan struct{}
}

// NewGateway assembles a gateway from its collaborators. The caller mounts
// HandleUpgrade on its HTTP mux and calls Shutdown on exit.
func NewGateway(
	config GatewayConfig,
	sessions *session.Store,
	members *group.Store,
	registry *presence.Registry,
	broker *messaging.Client,
	limiter *ratelimit.Limiter,
) *Gateway {
	g := &Gateway{
		config:   config,
		conns:    NewConnectionManager(),
		sessions: sessions,
		members:  members,
		registry: registry,
		broker:   broker,
		limiter:  limiter,
		done:     make(chan struct{}),
	}
	StartHeartbeat(g, DefaultHeartbeatConfig())
	return g
}

// HandleUpgrade authenticates and upgrades an HTTP request. The client
// passes the group and bearer token as query parameters:
//
//	GET /ws?group=<id>&token=<bearer>
//
// Connections without a valid token or without group membership are refused.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if g.conns.Count() >= g.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	groupID, err := strconv.ParseInt(r.URL.Query().Get("group"), 10, 64)
	if err != nil || groupID <= 0 {
		http.Error(w, "missing or invalid group", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	identity, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	isMember, err := g.members.IsMember(ctx, groupID, identity.UserID)
	if err != nil {
		http.Error(w, "membership check failed", http.StatusInternalServerError)
		return
	}
	if !isMember {
		http.Error(w, "not a group member", http.StatusForbidden)
		return
	}

	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		allowed, _ := g.limiter.Allow(ctx, host, ratelimit.RuleConnect)
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		UserID:       identity.UserID,
		Username:     identity.Username,
		GroupID:      groupID,
		Conn:         netConn,
		CreatedAt:    time.Now(),
		WriteTimeout: g.config.WriteTimeout,
	}
	c.Touch()

	groupConns := g.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(g.conns.Count()))

	// First local connection for the group wires the NATS fan-in.
	if groupConns == 1 {
		if err := g.subscribeGroup(groupID); err != nil {
			log.Printf("ws: subscribe group=%d failed: %v", groupID, err)
			g.removeConnection(c.ID)
			return
		}
	}

	g.joinPresence(c)

	log.Printf("ws: new connection id=%s user=%d group=%d (total=%d)",
		c.ID, c.UserID, c.GroupID, g.conns.Count())

	go g.readLoop(c)
}

// subscribeGroup wires the gateway into a group's fan-out subjects. Events
// are forwarded verbatim; online counts are re-framed as OnlineFrame.
func (g *Gateway) subscribeGroup(groupID int64) error {
	if err := g.broker.SubscribeGroupEvents(groupID, func(data []byte) {
		g.conns.BroadcastGroup(groupID, data)
	}); err != nil {
		return err
	}
	return g.broker.SubscribeGroupOnline(groupID, func(data []byte) {
		count := presence.Count(data)
		frame, err := json.Marshal(OnlineFrame{Type: TypeOnline, Count: count})
		if err != nil {
			return
		}
		g.conns.BroadcastGroup(groupID, frame)
	})
}

// joinPresence records the user as online and broadcasts the new count.
func (g *Gateway) joinPresence(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := g.registry.Join(ctx, c.GroupID, c.UserID)
	if err != nil {
		log.Printf("ws: presence join user=%d group=%d: %v", c.UserID, c.GroupID, err)
		return
	}
	metrics.OnlineUsers.WithLabelValues(strconv.FormatInt(c.GroupID, 10)).Set(float64(count))
	if err := g.broker.PublishGroupOnline(c.GroupID, count); err != nil {
		log.Printf("ws: publish online count group=%d: %v", c.GroupID, err)
	}
}

// readLoop reads frames from the browser until the connection dies. Each
// valid chat or typing event is re-stamped with the authenticated identity
// and published to the group's inbound subject.
func (g *Gateway) readLoop(c *Connection) {
	defer g.removeConnection(c.ID)

	for {
		select {
		case <-g.done:
			return
		default:
		}

		if g.config.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		// Always drain the frame payload; leftover bytes would desync the
		// next header read.
		data, err := io.ReadAll(reader)
		if err != nil {
			return
		}

		c.Touch()

		switch {
		case header.OpCode == ws.OpClose:
			return
		case header.OpCode == ws.OpPing:
			if err := c.WritePong(data); err != nil {
				return
			}
			continue
		case header.OpCode.IsControl():
			// Pong: connection is alive, nothing else to do.
			continue
		}

		if len(data) == 0 {
			continue
		}
		g.handleFrame(c, data)
	}
}

// handleFrame validates one inbound frame and forwards it to the broker.
func (g *Gateway) handleFrame(c *Connection, data []byte) {
	event, err := chat.ParseEvent(data)
	if err != nil {
		log.Printf("ws: drop frame id=%s: %v", c.ID, err)
		metrics.EventsTotal.WithLabelValues("unknown", "dropped").Inc()
		return
	}

	switch event.Type {
	case chat.TypeChat, chat.TypeTyping:
	default:
		// Deletes go through the REST API where the admin check lives.
		metrics.EventsTotal.WithLabelValues(eventLabel(event.Type), "dropped").Inc()
		return
	}

	// Identity comes from the authenticated session, never from the frame.
	// Message and typing rates are enforced downstream by the chat daemon.
	event.GroupID = c.GroupID
	event.SenderID = chat.FlexInt64(c.UserID)
	event.SenderName = c.Username

	out, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := g.broker.PublishGroupChat(c.GroupID, out); err != nil {
		log.Printf("ws: publish id=%s group=%d: %v", c.ID, c.GroupID, err)
	}
}

// removeConnection tears down one connection: drop it from the manager,
// leave the presence registry, broadcast the new count, and unwire the NATS
// fan-in when the last local connection for the group is gone.
func (g *Gateway) removeConnection(id string) {
	c, remaining := g.conns.Remove(id)
	if c == nil {
		return
	}
	metrics.ConnectionsTotal.Set(float64(g.conns.Count()))

	if remaining == 0 {
		if err := g.broker.UnsubscribeGroupEvents(c.GroupID); err != nil {
			log.Printf("ws: unsubscribe events group=%d: %v", c.GroupID, err)
		}
		if err := g.broker.UnsubscribeGroupOnline(c.GroupID); err != nil {
			log.Printf("ws: unsubscribe online group=%d: %v", c.GroupID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := g.registry.Leave(ctx, c.GroupID, c.UserID)
	if err != nil {
		log.Printf("ws: presence leave user=%d group=%d: %v", c.UserID, c.GroupID, err)
	} else {
		metrics.OnlineUsers.WithLabelValues(strconv.FormatInt(c.GroupID, 10)).Set(float64(count))
		if err := g.broker.PublishGroupOnline(c.GroupID, count); err != nil {
			log.Printf("ws: publish online count group=%d: %v", c.GroupID, err)
		}
	}

	log.Printf("ws: connection closed id=%s user=%d group=%d (total=%d)",
		c.ID, c.UserID, c.GroupID, g.conns.Count())
}

// Connections returns the ConnectionManager for external access (e.g., the
// heartbeat monitor).
func (g *Gateway) Connections() *ConnectionManager {
	return g.conns
}

// HandleHealth responds with the gateway's health status as JSON.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}{
		Status:      "ok",
		Connections: g.conns.Count(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown closes all active connections and stops the heartbeat.
func (g *Gateway) Shutdown() error {
	close(g.done)

	for _, c := range g.conns.All() {
		g.removeConnection(c.ID)
	}

	log.Printf("ws: gateway stopped, all connections closed")
	return nil
}

func eventLabel(eventType string) string {
	switch eventType {
	case chat.TypeChat:
		return "chat"
	case chat.TypeTyping:
		return "typing"
	case chat.TypeDelete:
		return "delete"
	case chat.TypeDeleteAll:
		return "delete_all"
	default:
		return "unknown"
	}
}

// removeStale is used by the heartbeat monitor to evict dead connections.
func (g *Gateway) removeStale(c *Connection) {
	g.removeConnection(c.ID)
}
