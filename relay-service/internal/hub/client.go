package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/relay-service/internal/config"
)

// Client is the socket side of one connection. Deliver and Close are only
// called from the hub loop, so the closed flag needs no lock.
type Client struct {
	ID     string
	Hub    *Hub
	Conn   *websocket.Conn
	send   chan []byte
	closed bool
	config config.WebSocketConfig
}

func NewClient(hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer < 1 {
		buffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Client{
		Hub:    hub,
		Conn:   conn,
		send:   make(chan []byte, buffer),
		config: cfg,
	}
}

// Deliver queues data for the write pump. A closed client or a full buffer
// drops the frame.
func (c *Client) Deliver(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		l := log.L()
		l.Debug().Str(log.FieldConnID, c.ID).Msg("send buffer full, frame skipped")
		return false
	}
}

// Close stops the write pump, which then closes the socket.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump feeds inbound frames to the hub until the socket fails, then
// queues the disconnect.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Disconnect(c.ID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}

		if err := c.Hub.Inbound(c.ID, message); err != nil {
			return
		}
	}
}

// WritePump drains the send buffer and keeps the socket alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
