package chat

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"taskroom/api/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client is one websocket connection. Room identity is stamped when a
// join is accepted and only ever written from the connection's own
// read loop, so the service handlers read it without locking.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	Send chan []byte

	projectID string
	userID    string
	userName  string
	joined    bool
}

func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		hub:  hub,
		conn: conn,
		Send: make(chan []byte, 256),
	}
}

// setRoom stamps the connection's identity after a successful join.
func (c *Client) setRoom(projectID, userID, userName string) {
	c.projectID = projectID
	c.userID = userID
	c.userName = userName
	c.joined = true
}

func (c *Client) InRoom() bool { return c.joined }

// SendEvent marshals the event and queues it on this connection only.
// A full send buffer drops the frame rather than blocking the caller.
func (c *Client) SendEvent(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
		return nil
	default:
		logging.L().Warn().Str("clientId", c.ID).Msg("send buffer full, dropping frame")
		return nil
	}
}

// ReadPump reads frames off the socket and hands them to handle. It
// runs until the connection drops, then invokes disconnect exactly
// once and unregisters from the hub.
func (c *Client) ReadPump(handle func(*Client, []byte), disconnect func(*Client)) {
	defer func() {
		disconnect(c)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.L().Debug().Err(err).Str("clientId", c.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		handle(c, data)
	}
}

// WritePump drains the Send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
