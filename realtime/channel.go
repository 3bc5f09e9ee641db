// Package realtime maintains the client's persistent bidirectional
// connection: message delivery, typing indicators, notifications, and read
// receipts, with bounded automatic reconnection on drop.
//
// Failures never surface as errors from the public operations; they become
// state changes and events, because the UI must stay responsive regardless
// of connection health.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"freework/clock"
	v1 "freework/contracts/realtime/v1"
	"freework/internal/stream"
)

type dialFunc func(ctx context.Context, u string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

// Channel is a reconnecting WebSocket client. One Channel serves one
// session; the access token is passed as a capability credential on
// Connect and reused for automatic reconnects.
type Channel struct {
	cfg  Config
	log  *slog.Logger
	clk  clock.Clock
	met  *metrics
	dial dialFunc

	messages      *stream.Stream[v1.MessagePayload]
	typing        *stream.Stream[v1.TypingPayload]
	notifications *stream.Stream[v1.NotificationPayload]
	readReceipts  *stream.Stream[v1.ReadReceiptPayload]
	states        *stream.Stream[StateChange]

	// writeMu serializes outbound writes; coder/websocket allows only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	gen         int
	attempts    int
	token       string
	manualClose bool
	retryTimer  clock.Timer
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) { ch.clk = c }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(ch *Channel) { ch.log = log }
}

// WithRegisterer registers the channel's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(ch *Channel) { ch.met = newMetrics(reg) }
}

// NewChannel constructs a Channel. It does not connect.
func NewChannel(cfg Config, opts ...Option) *Channel {
	c := &Channel{
		cfg:  cfg.withDefaults(),
		log:  slog.Default(),
		clk:  clock.Real(),
		dial: websocket.Dial,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.met == nil {
		c.met = newMetrics(nil)
	}

	onDrop := func() { c.log.Warn("ws.subscriber.dropped_event") }
	c.messages = stream.New[v1.MessagePayload](c.cfg.StreamBuffer, onDrop)
	c.typing = stream.New[v1.TypingPayload](c.cfg.StreamBuffer, onDrop)
	c.notifications = stream.New[v1.NotificationPayload](c.cfg.StreamBuffer, onDrop)
	c.readReceipts = stream.New[v1.ReadReceiptPayload](c.cfg.StreamBuffer, onDrop)
	c.states = stream.New[StateChange](c.cfg.StreamBuffer, onDrop)
	return c
}

// Messages is the inbound chat-message stream.
func (c *Channel) Messages() (<-chan v1.MessagePayload, func()) { return c.messages.Subscribe() }

// Typing is the inbound typing-indicator stream.
func (c *Channel) Typing() (<-chan v1.TypingPayload, func()) { return c.typing.Subscribe() }

// Notifications is the inbound notification stream.
func (c *Channel) Notifications() (<-chan v1.NotificationPayload, func()) {
	return c.notifications.Subscribe()
}

// ReadReceipts is the inbound read-receipt stream.
func (c *Channel) ReadReceipts() (<-chan v1.ReadReceiptPayload, func()) {
	return c.readReceipts.Subscribe()
}

// StateChanges is the connection-state stream, primed with the current state.
func (c *Channel) StateChanges() (<-chan StateChange, func()) {
	c.mu.Lock()
	current := StateChange{State: c.state}
	c.mu.Unlock()
	return c.states.Subscribe(current)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the current reconnect-attempt counter. It resets
// to zero on every successful connect.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection, carrying accessToken as a query-parameter
// credential. A no-op while Connecting or Connected. An explicit Connect
// also resets the reconnect budget, so it revives a channel that gave up.
func (c *Channel) Connect(ctx context.Context, accessToken string) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.log.Debug("ws.connect.noop", "state", c.state.String())
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.manualClose = false
	c.token = accessToken
	c.attempts = 0
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	c.establish(ctx, accessToken)
}

// establish performs one dial. On failure it schedules the next attempt.
func (c *Channel) establish(ctx context.Context, accessToken string) {
	endpoint, err := c.endpointWithToken(accessToken)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected, err)
		c.mu.Unlock()
		c.log.Error("ws.connect.bad_url", "err", err)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := c.dial(dialCtx, endpoint, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Warn("ws.connect.failed", "err", err)
		c.mu.Lock()
		c.setStateLocked(StateDisconnected, err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	if c.manualClose {
		// Disconnect raced the dial; honor it.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	c.met.connects.Inc()
	c.log.Info("ws.connected")
	go c.readLoop(conn, gen)
}

// Disconnect is the caller-initiated close. It never triggers reconnection:
// "I closed it" and "it dropped" are different things.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	changed := c.state != StateDisconnected
	if changed {
		c.setStateLocked(StateDisconnected, nil)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if changed {
		c.log.Info("ws.disconnected")
	}
}

// Send transmits one envelope, fire-and-forget. If the channel is not
// Connected the frame is dropped and logged, never queued; a later
// reconnect does not replay it.
func (c *Channel) Send(envType string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.met.droppedSends.Inc()
		c.log.Warn("ws.send.dropped", "type", envType)
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("ws.send.marshal", "type", envType, "err", err)
		return
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    envType,
		ID:      ulid.Make().String(),
		TS:      c.clk.Now(),
		Payload: raw,
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	c.writeMu.Lock()
	err = wsjson.Write(ctx, conn, env)
	c.writeMu.Unlock()
	if err != nil {
		// The read loop will observe the dead connection and reconnect.
		c.met.droppedSends.Inc()
		c.log.Warn("ws.send.failed", "type", envType, "err", err)
	}
}

// SendMessage sends a chat message.
func (c *Channel) SendMessage(p v1.MessagePayload) {
	c.Send(v1.TypeMessage, p)
}

// SendTyping signals typing started/stopped in a conversation.
func (c *Channel) SendTyping(conversationID string, isTyping bool) {
	c.Send(v1.TypeTyping, v1.TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
}

// MarkRead asks the server to mark a conversation read.
func (c *Channel) MarkRead(conversationID string) {
	c.Send(v1.TypeMarkRead, v1.MarkReadPayload{ConversationID: conversationID})
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.onConnectionLost(gen, err)
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("ws.frame.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			c.log.Warn("ws.frame.invalid", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch demultiplexes one inbound frame into its typed stream. A slow
// subscriber never blocks the read loop.
func (c *Channel) dispatch(env v1.Envelope) {
	c.met.frames.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case v1.TypeMessage:
		var p v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.frame.bad_payload", "type", env.Type, "err", err)
			return
		}
		c.messages.Publish(p)

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.frame.bad_payload", "type", env.Type, "err", err)
			return
		}
		c.typing.Publish(p)

	case v1.TypeNotification:
		var p v1.NotificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.frame.bad_payload", "type", env.Type, "err", err)
			return
		}
		c.notifications.Publish(p)

	case v1.TypeReadReceipt:
		var p v1.ReadReceiptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.frame.bad_payload", "type", env.Type, "err", err)
			return
		}
		c.readReceipts.Publish(p)

	default:
		c.log.Warn("ws.frame.unknown_type", "type", env.Type)
	}
}

// onConnectionLost handles a read failure for the given connection
// generation; stale generations (already disconnected or replaced) are
// ignored.
func (c *Channel) onConnectionLost(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(StateDisconnected, err)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.log.Warn("ws.connection.lost", "err", err)
}

// scheduleReconnectLocked arms the next reconnect attempt, or surfaces the
// terminal condition once the budget is spent.
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.met.exhausted.Inc()
		c.states.Publish(StateChange{State: StateDisconnected, Err: ErrConnectionUnavailable})
		c.log.Error("ws.reconnect.exhausted", "attempts", c.attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	token := c.token
	c.met.reconnects.Inc()

	c.retryTimer = c.clk.AfterFunc(c.cfg.ReconnectInterval, func() {
		c.mu.Lock()
		if c.manualClose || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting, nil)
		c.mu.Unlock()
		c.establish(context.Background(), token)
	})
	c.log.Info("ws.reconnect.scheduled", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts, "in", c.cfg.ReconnectInterval)
}

// setStateLocked transitions the state and publishes the change. Callers
// hold c.mu.
func (c *Channel) setStateLocked(s State, cause error) {
	c.state = s
	if s == StateConnected {
		c.met.connected.Set(1)
	} else {
		c.met.connected.Set(0)
	}
	c.states.Publish(StateChange{State: s, Err: cause})
}

func (c *Channel) endpointWithToken(accessToken string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
