package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/multichat/internal/types"
)

// Client is one websocket connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	session types.SessionID
}

func newClient(conn *websocket.Conn, hub *Hub, session types.SessionID) *Client {
	return &Client{
		id:      generateID(),
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		session: session,
	}
}

// readPump only watches for the connection closing; clients send nothing.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func generateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
