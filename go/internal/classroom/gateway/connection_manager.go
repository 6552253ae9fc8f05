package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom/events"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ActionHandler receives decoded client actions and connection closures.
type ActionHandler interface {
	Dispatch(connectionID string, action events.Action)
	Disconnect(connectionID string)
}

// ConnectionManager owns the room's websocket connections and fans events
// out to them. It implements coordinator.Broadcaster.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	// broadcastCh keeps Broadcast, Send and Disconnect in submission order.
	broadcastCh chan BroadcastMessage
}

// Connection is one client socket.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	handler ActionHandler
	limiter *rate.Limiter

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	SendBufferSize    int
	BroadcastBuffer   int
	MessagesPerSecond float64
	MessageBurst      int
	CheckOrigin       func(r *http.Request) bool
}

// BroadcastMessage is a queued delivery. An empty ConnectionID targets every
// connection; Close disconnects the target after earlier messages flush.
type BroadcastMessage struct {
	Event        events.Event
	ConnectionID string
	Close        bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    8 * 1024,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		SendBufferSize:    256,
		BroadcastBuffer:   1000,
		MessagesPerSecond: 10,
		MessageBurst:      20,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. A nil clock uses the
// real clock for envelope timestamps.
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
	}
}

// Start processes queued deliveries until ctx is cancelled, then closes
// every open connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket bound to handler.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, handler ActionHandler) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		handler:     handler,
		limiter:     rate.NewLimiter(rate.Limit(cm.config.MessagesPerSecond), cm.config.MessageBurst),
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes conn and closes its send queue. Safe to call
// more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.connections[conn.ID]; ok && existing == conn {
		delete(cm.connections, conn.ID)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", cm.clock.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	}
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("event_type", string(message.Event.Type)).
			Str("connection_id", message.ConnectionID).
			Msg("broadcast channel full, dropping message")
	}
}

// Broadcast sends evt to every open connection.
func (cm *ConnectionManager) Broadcast(evt events.Event) {
	cm.enqueue(BroadcastMessage{Event: evt})
}

// Send sends evt to one connection. Unknown connections are ignored.
func (cm *ConnectionManager) Send(connectionID string, evt events.Event) {
	cm.enqueue(BroadcastMessage{Event: evt, ConnectionID: connectionID})
}

// Disconnect closes a connection once everything queued before it is sent.
// A close request is never dropped: when the queue is full the connection is
// closed immediately.
func (cm *ConnectionManager) Disconnect(connectionID string) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ConnectionID: connectionID, Close: true}:
	default:
		log.Warn().
			Str("connection_id", connectionID).
			Msg("broadcast channel full, closing connection without flushing")
		cm.closeConnection(connectionID)
	}
}

func (cm *ConnectionManager) closeConnection(connectionID string) {
	cm.mu.RLock()
	conn, ok := cm.connections[connectionID]
	cm.mu.RUnlock()
	if ok {
		log.Info().Str("connection_id", conn.ID).Msg("closing connection on request")
		cm.unregisterConnection(conn)
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	if message.Close {
		cm.closeConnection(message.ConnectionID)
		return
	}

	envelope, err := events.Seal(message.Event, cm.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(message.Event.Type)).Msg("failed to seal event")
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Send queues are only closed under the write lock, so delivering under
	// the read lock never hits a closed channel.
	var slow []*Connection
	delivered := 0
	cm.mu.RLock()
	deliver := func(conn *Connection) {
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	if message.ConnectionID != "" {
		if conn, ok := cm.connections[message.ConnectionID]; ok {
			deliver(conn)
		}
	} else {
		for _, conn := range cm.connections {
			deliver(conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Int("connections", delivered).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// ConnectionStats summarises open connections.
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return ConnectionStats{TotalConnections: len(cm.connections)}
}

// writePump drains Send to the socket and keeps the connection alive with
// pings. A closed Send queue ends the connection with a close frame.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes client actions until the socket closes, then reports the
// disconnect exactly once.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		c.handler.Disconnect(c.ID)
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	if !c.limiter.Allow() {
		log.Warn().Str("connection_id", c.ID).Msg("rate limit exceeded, dropping client message")
		return
	}

	var action events.Action
	if err := json.Unmarshal(message, &action); err != nil || action.Type == "" {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Int("bytes", len(message)).
			Msg("dropping malformed client message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("action", string(action.Type)).
		Msg("received client action")
	c.handler.Dispatch(c.ID, action)
}
