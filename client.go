// Package freework is the FreeWork marketplace client: an authenticated
// session with automatic token refresh, plus the realtime messaging channel
// and unread tracking built on top of it.
package freework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"freework/authapi"
	"freework/config"
	v1 "freework/contracts/realtime/v1"
	"freework/messaging"
	"freework/realtime"
	"freework/session"
	"freework/storage"
)

// ErrNotAuthenticated is returned when an operation requires a live session.
var ErrNotAuthenticated = errors.New("not authenticated")

// Client bundles the session manager, the realtime channel, and the unread
// tracker into one wired application context. Logout tears the realtime
// connection down; the channel never outlives the session that opened it.
type Client struct {
	Session  *session.Manager
	Realtime *realtime.Channel
	Unread   *messaging.UnreadTracker

	log        *slog.Logger
	store      storage.Store
	stopUnread func()
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	log          *slog.Logger
	sessionOpts  []session.Option
	realtimeOpts []realtime.Option
}

// WithLogger sets the structured logger shared by all subsystems.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithSessionOptions appends options for the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *clientOptions) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// WithRealtimeOptions appends options for the realtime channel.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *clientOptions) { o.realtimeOpts = append(o.realtimeOpts, opts...) }
}

// New wires a Client from configuration. It performs no network I/O; call
// Restore or Login on the session afterwards.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := clientOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	driver, storeOpts := cfg.StorageOptions()
	store, err := storage.NewStore(driver, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	api := authapi.NewClient(cfg.APIURL + "/auth")
	sess := session.NewManager(cfg.Session(), api, store,
		append([]session.Option{session.WithLogger(o.log)}, o.sessionOpts...)...)
	channel := realtime.NewChannel(cfg.Realtime(),
		append([]realtime.Option{realtime.WithLogger(o.log)}, o.realtimeOpts...)...)

	unread := messaging.NewUnreadTracker()
	notifications, stopUnread := channel.Notifications()
	go unread.Feed(notifications)

	c := &Client{
		Session:    sess,
		Realtime:   channel,
		Unread:     unread,
		log:        o.log,
		store:      store,
		stopUnread: stopUnread,
	}

	// Logout invalidates the access token the connection was opened with,
	// so the channel goes down with the session.
	sess.AddLogoutHook(func() {
		channel.Disconnect()
		unread.Reset()
	})
	return c, nil
}

// ConnectRealtime opens the realtime channel using the session's current
// access token. It refuses when no authenticated session exists.
func (c *Client) ConnectRealtime(ctx context.Context) error {
	if !c.Session.IsAuthenticated(ctx) {
		return ErrNotAuthenticated
	}
	accessToken, err := c.Session.AccessToken(ctx)
	if err != nil {
		return err
	}
	c.Realtime.Connect(ctx, accessToken)
	return nil
}

// SendMessage sends a chat message over the realtime channel, stamping the
// sender from the current session. Fire-and-forget, like all channel sends.
func (c *Client) SendMessage(conversationID, receiverID, content, clientMsgID string) {
	p := v1.MessagePayload{
		ClientMsgID:    clientMsgID,
		ConversationID: conversationID,
		ReceiverID:     receiverID,
		Content:        content,
	}
	if u := c.Session.CurrentUser(); u != nil {
		p.SenderID = u.ID
		p.SenderName = u.FirstName + " " + u.LastName
	}
	c.Realtime.SendMessage(p)
}

// MarkRead marks a conversation read on the server and clears the local
// unread tally without waiting for the receipt.
func (c *Client) MarkRead(conversationID string) {
	c.Realtime.MarkRead(conversationID)
	c.Unread.MarkRead(conversationID)
}

// Close releases the client's resources. It does not log the session out.
func (c *Client) Close() error {
	c.stopUnread()
	c.Realtime.Disconnect()
	return c.store.Close()
}
