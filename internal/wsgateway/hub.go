package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/rate-notifier/internal/config"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

var upgrader = websocket.Upgrader{
	// The API already answers cross-origin requests; the stream carries no secrets
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub manages WebSocket connections and broadcasts notifications to them.
// It is a notify.Notifier; when given a Redis channel it also relays
// notifications published there by any process.
type Hub struct {
	config           config.WSGatewayConfig
	registry         *ConnectionRegistry
	redis            storage.RedisClient
	channel          string
	resubscribeDelay time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	mu               sync.RWMutex
	running          bool
	stats            HubStats
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal       int64
	ConnectionsActive      int64
	NotificationsReceived  int64
	NotificationsBroadcast int64
	MessagesSent           int64
	MessagesDropped        int64
	LastNotificationTime   time.Time
	mu                     sync.RWMutex
}

// NewHub creates a new WebSocket hub. redis and channel may be empty, in
// which case only notifications passed to Notify are broadcast.
func NewHub(cfg config.WSGatewayConfig, redis storage.RedisClient, channel string) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:           cfg,
		registry:         NewConnectionRegistry(),
		redis:            redis,
		channel:          channel,
		resubscribeDelay: 2 * time.Second,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start starts the background relay and health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting WebSocket hub",
		logger.String("channel", h.channel),
		logger.Int("max_connections", h.config.MaxConnections),
	)

	if h.redis != nil && h.channel != "" {
		h.wg.Add(1)
		go h.consumeNotifications()
	}

	h.wg.Add(1)
	go h.monitorConnections()

	return nil
}

// Stop closes every connection and waits for the background goroutines
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub")
	h.cancel()
	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

// Notify broadcasts a notification to every connected client
func (h *Hub) Notify(ctx context.Context, title, body string) error {
	h.Broadcast(notify.NewNotification(title, body))
	return nil
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.registry.Count() >= h.config.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", h.config.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection",
			logger.ErrorField(err),
		)
		return
	}

	wsConn := NewConnection(uuid.New().String(), r.RemoteAddr, conn)
	h.Register(wsConn)
}

// Register registers a new connection and starts its pumps
func (h *Hub) Register(conn *Connection) {
	h.registry.Add(conn)
	h.incrementConnectionsTotal()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("remote_addr", conn.RemoteAddr),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister unregisters a connection
func (h *Hub) Unregister(conn *Connection) {
	removed := h.registry.Remove(conn.ID)
	conn.Close()

	if removed {
		logger.Info("Connection unregistered",
			logger.String("connection_id", conn.ID),
			logger.Int("total_connections", h.registry.Count()),
		)
	}
}

// Broadcast sends a notification to every connected, unmuted client and
// returns how many clients it was queued for
func (h *Hub) Broadcast(notification *models.Notification) int {
	connections := h.registry.GetAll()
	sent := 0
	dropped := 0

	for _, conn := range connections {
		queued, err := conn.SendNotification(notification)
		if err != nil {
			dropped++
			logger.Debug("Failed to send notification to connection",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
			continue
		}
		if queued {
			sent++
		}
	}

	h.recordBroadcast(int64(dropped))

	logger.Debug("Broadcast notification",
		logger.String("notification_id", notification.ID),
		logger.Int("sent", sent),
		logger.Int("dropped", dropped),
		logger.Int("total_connections", len(connections)),
	)
	return sent
}

// consumeNotifications relays notifications published on the Redis channel.
// The subscription is re-established if it drops while the hub is running.
func (h *Hub) consumeNotifications() {
	defer h.wg.Done()

	for {
		messageChan, err := h.redis.Subscribe(h.ctx, h.channel)
		if err != nil {
			logger.Error("Failed to subscribe to notification channel",
				logger.ErrorField(err),
				logger.String("channel", h.channel),
			)
		} else {
			h.relay(messageChan)
		}

		select {
		case <-h.ctx.Done():
			return
		case <-time.After(h.resubscribeDelay):
			logger.Warn("Notification subscription ended, retrying",
				logger.String("channel", h.channel),
			)
		}
	}
}

func (h *Hub) relay(messageChan <-chan storage.PubSubMessage) {
	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-messageChan:
			if !ok {
				return
			}

			notification, err := decodeNotification(msg.Message)
			if err != nil {
				logger.Error("Failed to decode notification",
					logger.ErrorField(err),
					logger.String("channel", msg.Channel),
				)
				continue
			}

			h.incrementNotificationsReceived()
			h.Broadcast(notification)
		}
	}
}

func decodeNotification(payload string) (*models.Notification, error) {
	var notification models.Notification
	if err := json.Unmarshal([]byte(payload), &notification); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if notification.ID == "" {
		return nil, fmt.Errorf("notification has no id")
	}
	return &notification, nil
}

// writePump pumps messages from the hub to the WebSocket connection
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))

			w, err := conn.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
			h.incrementMessagesSent()

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			conn.SendError("invalid_message", "failed to parse message")
			continue
		}

		if err := conn.HandleClientMessage(&clientMsg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections removes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2

			for _, conn := range h.registry.GetAll() {
				lastPong := conn.GetLastPong()
				if now.Sub(lastPong) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.Duration("idle_time", now.Sub(lastPong)),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.stats.mu.RLock()
	defer h.stats.mu.RUnlock()

	return HubStats{
		ConnectionsTotal:       h.stats.ConnectionsTotal,
		ConnectionsActive:      int64(h.registry.Count()),
		NotificationsReceived:  h.stats.NotificationsReceived,
		NotificationsBroadcast: h.stats.NotificationsBroadcast,
		MessagesSent:           h.stats.MessagesSent,
		MessagesDropped:        h.stats.MessagesDropped,
		LastNotificationTime:   h.stats.LastNotificationTime,
	}
}

func (h *Hub) incrementConnectionsTotal() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.ConnectionsTotal++
}

func (h *Hub) incrementNotificationsReceived() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.NotificationsReceived++
}

func (h *Hub) recordBroadcast(dropped int64) {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.NotificationsBroadcast++
	h.stats.MessagesDropped += dropped
	h.stats.LastNotificationTime = time.Now()
}

func (h *Hub) incrementMessagesSent() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.MessagesSent++
}
