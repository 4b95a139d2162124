package realtime

import (
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

// sendBufferSize bounds the per-connection outbound queue. A client that
// cannot drain its queue has frames dropped rather than blocking the hub.
const sendBufferSize = 256

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one authenticated websocket connection. UserID and Name are
// resolved once at handshake time and never re-checked for the life of the
// connection.
type Client struct {
	ID     string // connection ID, the presence directory's value
	UserID uuid.UUID
	Name   string

	conn  Conn
	send  chan []byte
	rooms map[uuid.UUID]struct{} // guarded by the hub's mutex
}

func newClient(userID uuid.UUID, name string, conn Conn) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   name,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// enqueue queues a frame for delivery without blocking; frames to a stalled
// client are dropped.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// writePump drains the send channel onto the wire. It exits when the send
// channel is closed by Hub.Remove or on the first write error.
func (c *Client) writePump() {
	defer c.conn.Close()

	for frame := range c.send {
		if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
			return
		}
	}
}
