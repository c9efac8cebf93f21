package wsgateway

import (
	"fmt"

	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// Client message types
const (
	MessageTypePing   = "ping"
	MessageTypeMute   = "mute"
	MessageTypeUnmute = "unmute"
)

// Server message types
const (
	MessageTypePong         = "pong"
	MessageTypeNotification = "notification"
	MessageTypeSuccess      = "success"
	MessageTypeError        = "error"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type string `json:"type"`
}

// ServerMessage represents a message to the client
type ServerMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleClientMessage handles a message from the client
func (c *Connection) HandleClientMessage(msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypePing:
		return c.enqueue(ServerMessage{Type: MessageTypePong})

	case MessageTypeMute, MessageTypeUnmute:
		muted := msg.Type == MessageTypeMute
		c.SetMuted(muted)
		logger.Debug("Client changed mute state",
			logger.String("connection_id", c.ID),
			logger.Bool("muted", muted),
		)
		return c.enqueue(ServerMessage{
			Type: MessageTypeSuccess,
			Data: map[string]interface{}{"action": msg.Type},
		})

	default:
		return c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}
