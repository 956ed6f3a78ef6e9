package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// ErrSlowConsumer is returned by Enqueue when a connection's send buffer is
// full. The broadcaster logs it and schedules the connection for closure; it
// must never stall delivery to the remaining connections.
var ErrSlowConsumer = errors.New("send buffer full, connection too slow")

// State is the lifecycle state of a relay connection.
type State int32

const (
	StateConnecting State = iota // transport accepted, no room yet
	StateJoined                  // valid join-room processed
	StateActive                  // at least one chat/typing event processed
	StateClosed                  // terminal
)

// Client is one live relay connection. It never outlives the underlying
// websocket transport: a new connection always re-enters at StateConnecting
// and has to re-join explicitly, there is no reconnect-resume.
type Client struct {
	relay *Relay
	conn  *websocket.Conn

	id   string
	user *types.User

	// Buffered channel of outbound messages; Enqueue never blocks on it.
	Send chan []byte

	mu     sync.Mutex
	state  State
	roomId string

	// writeMu serializes all transport writes: the write loop and the final
	// error frame written during teardown.
	writeMu sync.Mutex

	closeOnce sync.Once
	doneChan  chan struct{}
}

func NewClient(relay *Relay, conn *websocket.Conn, user *types.User) *Client {
	return &Client{
		relay:    relay,
		conn:     conn,
		id:       uuid.NewString(),
		user:     user,
		Send:     make(chan []byte, sendChannelSize),
		state:    StateConnecting,
		doneChan: make(chan struct{}),
	}
}

// ID returns the stable connection id used for exclude-self filtering.
func (c *Client) ID() string { return c.id }

func (c *Client) User() *types.User { return c.user }

// Enqueue hands data to the write loop without blocking. A full buffer means
// the peer cannot keep up, the caller is expected to close the connection.
func (c *Client) Enqueue(data []byte) error {
	select {
	case <-c.doneChan:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomId returns the room this connection joined, or "" before a join.
func (c *Client) RoomId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomId
}

// Close tears the connection down exactly once: terminal state, transport
// close, doneChan. Deregistration and the user-left broadcast happen in
// Relay.Disconnect which is likewise idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.doneChan)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// closeWithError delivers one final error frame and the close handshake,
// then tears the connection down. The frame is written synchronously: handing
// it to the write loop would race the transport close and the peer would
// never see it.
func (c *Client) closeWithError(message string) {
	data, err := types.EncodeEvent(&types.ErrorFrame{Message: message})
	if err != nil {
		globals.AppLogger.Error("could not marshal error frame", "error", err)
	} else if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			globals.AppLogger.Warn("could not write error frame", "connection", c.id, "error", err)
		}
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
		c.writeMu.Unlock()
	} else {
		_ = c.Enqueue(data)
	}
	c.Close()
}

// ReadLoop pumps messages from the websocket connection into the session
// state machine.
//
// The application runs ReadLoop in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.relay.Disconnect(c)
		c.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Info("websocket closed unexpectedly", "connection", c.id, "error", err)
			}
			return
		}
		ev, err := types.DecodeEvent(raw)
		if err != nil {
			// malformed frame: drop it, keep the connection open
			globals.AppLogger.Warn("dropping malformed event", "connection", c.id, "error", err)
			continue
		}
		c.handleEvent(ev)
	}
}

// WriteLoop pumps messages from the send buffer to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case message := <-c.Send:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, message)
			c.writeMu.Unlock()
			if err != nil {
				globals.AppLogger.Info("could not write to websocket, exiting write loop", "connection", c.id)
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				globals.AppLogger.Info("could not send ping, exiting write loop", "connection", c.id)
				return
			}

		case <-c.doneChan:
			return
		}
	}
}

// Wait blocks until the connection is torn down.
func (c *Client) Wait() {
	<-c.doneChan
}
