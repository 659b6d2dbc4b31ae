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
	"github.com/rs/zerolog/log"
)

// ClientHandler supplies the state new connections start from and receives
// messages sent by clients.
type ClientHandler interface {
	Snapshot() []*Event
	HandleClientMessage(connID string, msg ClientMessage)
}

// ConnectionManager manages WebSocket connections of the local participant's UI
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ClientHandler

	broadcastCh chan *Event
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager
	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // 1KB max message size
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,

		// Any origin may open the socket.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler ClientHandler) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		handler:     handler,
		broadcastCh: make(chan *Event, 256),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection and queues the current snapshot for it.
// Holding the lock keeps later broadcasts behind the snapshot.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true
	for _, event := range cm.handler.Snapshot() {
		data, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal snapshot event")
			continue
		}
		select {
		case conn.Send <- data:
		default:
			log.Warn().Str("connection_id", conn.ID).Msg("snapshot larger than send buffer")
		}
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Msg("connection unregistered")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// Broadcast queues an event for every connected client
func (cm *ConnectionManager) Broadcast(event *Event) {
	select {
	case cm.broadcastCh <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// Count returns the number of connected clients
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(event *Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	for conn := range cm.connections {
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	total := len(cm.connections)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Int("connections", total).
		Msg("event broadcasted")
}

// writePump is the only writer on the socket. It forwards queued events and
// pings the client so a dead browser tab is noticed.
func (c *Connection) writePump() {
	ping := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ping.Stop()
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	for {
		var err error
		select {
		case data, open := <-c.Send:
			if !open {
				c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(websocket.TextMessage, data)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("websocket write failed, dropping client")
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// readPump hands client messages to the manager's handler until the socket
// fails or the client stays silent past ReadTimeout. Pongs count as traffic.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	extend := func() error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetPongHandler(func(string) error { return extend() })
	extend()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("client socket closed unexpectedly")
			}
			return
		}
		c.handleClientMessage(message)
		extend()
	}
}

// handleClientMessage decodes a client message and hands it to the manager's handler
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed client message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("type", string(msg.Type)).
		Msg("received client message")
	c.Manager.handler.HandleClientMessage(c.ID, msg)
}
