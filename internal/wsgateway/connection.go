package wsgateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// sendTimeout bounds how long a broadcast waits on a slow client
const sendTimeout = 1 * time.Second

// Connection represents a WebSocket connection with a client
type Connection struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn
	Send       chan []byte
	mu         sync.RWMutex
	muted      bool
	done       chan struct{}
	closeOnce  sync.Once
	lastPong   time.Time
	createdAt  time.Time
}

// NewConnection creates a new WebSocket connection
func NewConnection(id string, remoteAddr string, conn *websocket.Conn) *Connection {
	now := time.Now()
	return &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		Conn:       conn,
		Send:       make(chan []byte, 64),
		done:       make(chan struct{}),
		createdAt:  now,
		lastPong:   now,
	}
}

// SetMuted pauses or resumes notification delivery to this client
func (c *Connection) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// IsMuted reports whether notifications are paused
func (c *Connection) IsMuted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// SendNotification queues a notification for the client. A muted client
// silently skips it; a full queue drops it after sendTimeout.
func (c *Connection) SendNotification(notification *models.Notification) (bool, error) {
	if c.IsMuted() {
		return false, nil
	}

	data, err := json.Marshal(ServerMessage{Type: MessageTypeNotification, Data: notification})
	if err != nil {
		return false, err
	}

	select {
	case c.Send <- data:
		return true, nil
	case <-c.done:
		return false, nil
	case <-time.After(sendTimeout):
		logger.Warn("Failed to send notification, channel full",
			logger.String("connection_id", c.ID),
		)
		return false, nil
	}
}

// enqueue queues a control message without blocking
func (c *Connection) enqueue(message ServerMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	case <-c.done:
	default:
		// Drop control messages if the queue is full
	}
	return nil
}

// SendError sends an error message to the connection
func (c *Connection) SendError(code string, message string) error {
	return c.enqueue(ServerMessage{Type: MessageTypeError, Code: code, Message: message})
}
