package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	defaultSendBuffer = 128
)

// Socket is the part of a websocket connection a Connection needs.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ControlFunc handles a control frame read from the client. Returning an
// error logs it and keeps the connection open.
type ControlFunc func(conn *Connection, frame Frame) error

// Connection wraps a websocket and coordinates outbound writes via a buffered
// channel. Safe for concurrent Send.
type Connection struct {
	id     string
	UserID string

	ws         Socket
	send       chan []byte
	pingPeriod time.Duration
	logger     *zap.Logger

	once  sync.Once
	close chan struct{}
}

// ConnectionOptions tune a Connection. Zero values fall back to defaults.
type ConnectionOptions struct {
	SendBuffer int
	PingPeriod time.Duration
	Logger     *zap.Logger
}

// NewConnection constructs a Connection for the given user.
func NewConnection(userID string, ws Socket, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Connection{
		id:         uuid.NewString(),
		UserID:     userID,
		ws:         ws,
		send:       make(chan []byte, opts.SendBuffer),
		pingPeriod: opts.PingPeriod,
		logger:     opts.Logger,
		close:      make(chan struct{}),
	}
}

// ID implements Subscriber.
func (c *Connection) ID() string { return c.id }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A client whose buffer is full is
// disconnected so one slow dashboard cannot hold frames for everyone else.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close terminates the connection and stops the write loop. Idempotent.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.close
}

// ReadLoop reads client frames until the socket fails or the connection is
// closed, passing each one to onControl. It blocks.
func (c *Connection) ReadLoop(onControl ControlFunc) {
	readWait := c.pingPeriod * 2
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.close:
			default:
				c.logger.Debug("socket read ended", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("invalid client frame", zap.String("connection_id", c.id), zap.Error(err))
			continue
		}
		if err := onControl(c, frame); err != nil {
			c.logger.Warn("control frame rejected",
				zap.String("connection_id", c.id),
				zap.String("event", frame.Event),
				zap.Error(err))
		}
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
