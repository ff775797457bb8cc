// Package realtimeclient is a Go client for the helpdesk /ws socket. It keeps
// a desired set of rooms, replays it after every reconnect and drops the
// duplicate frames a reconnect tends to produce.
package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
)

const (
	baseBackoff        = 100 * time.Millisecond
	maxBackoff         = 2 * time.Second
	backoffFactor      = 1.5
	defaultDedupWindow = 3 * time.Second
	dialTimeout        = 20 * time.Second
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("realtimeclient: closed")

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is the part of a websocket connection the client uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens socket connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d GorillaDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout, Proxy: http.ProxyFromEnvironment}
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Backoff is the delay before reconnect attempt n (0-based).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// TicketHandler receives "ticket" frames.
type TicketHandler func(realtime.TicketFrameData)

// MessageHandler receives "appMessage" frames.
type MessageHandler func(realtime.MessageFrameData)

// Options configure a Client. URL is the socket endpoint, e.g.
// ws://localhost:8080/ws.
type Options struct {
	URL         string
	Token       string
	Dialer      Dialer
	DedupWindow time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Client maintains one socket connection and its room subscriptions.
type Client struct {
	baseURL string
	dialer  Dialer
	window  time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	token    string
	state    State
	conn     Conn
	closed   bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	statuses map[domain.TicketStatus]struct{}
	tickets  map[string]struct{}
	seen     map[string]time.Time

	hmu            sync.RWMutex
	nextHandlerID  int
	ticketHandlers map[int]TicketHandler
	msgHandlers    map[int]MessageHandler
}

// New builds a disconnected client. Call Connect to start it.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = GorillaDialer{}
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:        opts.URL,
		dialer:         opts.Dialer,
		window:         opts.DedupWindow,
		clock:          opts.Clock,
		logger:         opts.Logger,
		token:          opts.Token,
		done:           make(chan struct{}),
		statuses:       make(map[domain.TicketStatus]struct{}),
		tickets:        make(map[string]struct{}),
		seen:           make(map[string]time.Time),
		ticketHandlers: make(map[int]TicketHandler),
		msgHandlers:    make(map[int]MessageHandler),
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop in the background. It returns at once;
// the client keeps reconnecting until ctx ends or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Close stops reconnecting, drops the connection and forgets every room.
// It waits for the connection loop, so it must not be called from a handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.statuses = make(map[domain.TicketStatus]struct{})
	c.tickets = make(map[string]struct{})
	c.seen = make(map[string]time.Time)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if started {
		<-c.done
	}
	return err
}

// JoinStatus subscribes to the dashboard list of a status. Unknown spellings
// fold into pending.
func (c *Client) JoinStatus(status string) {
	if status == "" {
		return
	}
	s := domain.NormalizeStatus(status)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.statuses[s] = struct{}{}
	c.sendLocked(realtime.ControlJoinTickets, string(s))
}

// LeaveStatus drops a status subscription.
func (c *Client) LeaveStatus(status string) {
	if status == "" {
		return
	}
	s := domain.NormalizeStatus(status)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, s)
	c.sendLocked(realtime.ControlLeaveTickets, string(s))
}

// JoinTicket subscribes to the chat view of one ticket.
func (c *Client) JoinTicket(ticketID string) {
	if ticketID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.tickets[ticketID] = struct{}{}
	c.sendLocked(realtime.ControlJoinChatBox, ticketID)
}

// LeaveTicket drops a ticket subscription.
func (c *Client) LeaveTicket(ticketID string) {
	if ticketID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tickets, ticketID)
	c.sendLocked(realtime.ControlLeaveChatBox, ticketID)
}

// RefreshAuth swaps the token used for future dials and re-authenticates the
// live connection.
func (c *Client) RefreshAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.sendLocked(realtime.ControlRefreshAuth, token)
}

// Rooms returns the desired subscriptions, for diagnostics.
func (c *Client) Rooms() (statuses []string, tickets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.statuses {
		statuses = append(statuses, string(s))
	}
	for id := range c.tickets {
		tickets = append(tickets, id)
	}
	return statuses, tickets
}

// OnTicket registers h for ticket frames and returns its unsubscribe func.
func (c *Client) OnTicket(h TicketHandler) func() {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.ticketHandlers[id] = h
	return func() {
		c.hmu.Lock()
		delete(c.ticketHandlers, id)
		c.hmu.Unlock()
	}
}

// OnMessage registers h for appMessage frames and returns its unsubscribe func.
func (c *Client) OnMessage(h MessageHandler) func() {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.msgHandlers[id] = h
	return func() {
		c.hmu.Lock()
		delete(c.msgHandlers, id)
		c.hmu.Unlock()
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	for {
		if !c.setState(StateConnecting) {
			return
		}
		conn, err := c.dialer.Dial(ctx, c.dialURL(), nil)
		if err != nil {
			c.logger.Warn("socket dial failed", zap.Int("attempt", attempt), zap.Error(err))
			c.setState(StateDisconnected)
			if !c.sleep(ctx, Backoff(attempt)) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		err = c.readLoop(conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("socket disconnected", zap.Error(err))
		if !c.sleep(ctx, Backoff(attempt)) {
			return
		}
	}
}

// attach installs conn and replays subscriptions. It returns false when the
// client was closed while dialing.
func (c *Client) attach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.seen = make(map[string]time.Time)

	c.sendLocked(realtime.ControlJoinNotification, nil)
	for id := range c.tickets {
		c.sendLocked(realtime.ControlJoinChatBox, id)
	}
	for s := range c.statuses {
		c.sendLocked(realtime.ControlJoinTickets, string(s))
	}
	return true
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if !c.closed {
			c.state = StateDisconnected
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) setState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.state = s
	return true
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sendLocked writes a control frame when connected. Callers hold c.mu, which
// also serializes writes on the connection.
func (c *Client) sendLocked(event string, arg any) {
	if c.conn == nil {
		return
	}
	frame := realtime.Frame{Event: event}
	if arg != nil {
		raw, err := json.Marshal(arg)
		if err != nil {
			c.logger.Warn("encode control frame", zap.String("event", event), zap.Error(err))
			return
		}
		frame.Data = raw
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn("write control frame", zap.String("event", event), zap.Error(err))
	}
}

func (c *Client) readLoop(conn Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame realtime.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Debug("discard malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame realtime.Frame) {
	switch frame.Event {
	case realtime.EventTicket:
		var data realtime.TicketFrameData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.logger.Debug("discard malformed ticket frame", zap.Error(err))
			return
		}
		if !c.firstSeen(ticketKey(data)) {
			return
		}
		c.hmu.RLock()
		handlers := make([]TicketHandler, 0, len(c.ticketHandlers))
		for _, h := range c.ticketHandlers {
			handlers = append(handlers, h)
		}
		c.hmu.RUnlock()
		for _, h := range handlers {
			c.safeCall(frame.Event, func() { h(data) })
		}
	case realtime.EventAppMessage:
		var data realtime.MessageFrameData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.logger.Debug("discard malformed message frame", zap.Error(err))
			return
		}
		if !c.firstSeen(messageKey(data)) {
			return
		}
		c.hmu.RLock()
		handlers := make([]MessageHandler, 0, len(c.msgHandlers))
		for _, h := range c.msgHandlers {
			handlers = append(handlers, h)
		}
		c.hmu.RUnlock()
		for _, h := range handlers {
			c.safeCall(frame.Event, func() { h(data) })
		}
	}
}

func (c *Client) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("socket handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn()
}

// firstSeen records key and reports whether it was not seen within the window.
func (c *Client) firstSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, at := range c.seen {
		if now.Sub(at) > 2*c.window {
			delete(c.seen, k)
		}
	}
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.window {
		return false
	}
	c.seen[key] = now
	return true
}

// ticketKey fingerprints the state a frame carries, so only frames that
// would leave a dashboard unchanged share a key.
func ticketKey(d realtime.TicketFrameData) string {
	id, status := d.TicketID, d.Status
	var at time.Time
	if d.UpdatedAt != nil {
		at = *d.UpdatedAt
	}
	unread, preview, assignee := 0, "", ""
	if t := d.Ticket; t != nil {
		if id == "" {
			id = t.ID
		}
		status, unread, preview, at = t.Status, t.UnreadMessages, t.LastMessage, t.UpdatedAt
		if t.UserID != nil {
			assignee = *t.UserID
		}
	}
	return fmt.Sprintf("ticket|%s|%s|%s|%d|%s|%q|%d", d.Action, id, status, unread, assignee, preview, at.UnixNano())
}

func messageKey(d realtime.MessageFrameData) string {
	id, ack := "", 0
	if d.Message != nil {
		id, ack = d.Message.ID, d.Message.Ack
	}
	return fmt.Sprintf("appMessage|%s|%s|%d", d.Action, id, ack)
}

func (c *Client) dialURL() string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return c.baseURL
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
