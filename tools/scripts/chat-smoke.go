// Package main provides a CI-friendly smoke test for the FreeWork client
// against a running backend (e.g. freework-devserver).
//
// It validates:
//   - login for both seeded accounts
//   - realtime connect with the session's access token
//   - typing indicator fanout
//   - message delivery + unread notification
//   - mark-read -> read receipt fanout
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"freework"
	"freework/authapi"
	"freework/config"
	"freework/internal/logging"
	"freework/realtime"
)

func main() {
	var (
		apiURL   = flag.String("api", "http://127.0.0.1:8080/api", "REST API base URL")
		wsURL    = flag.String("ws", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		convID   = flag.String("conv", "smoke-conv-1", "Conversation ID")
		text     = flag.String("text", "hello from chat-smoke", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	log := logging.New(*logLevel)
	ctx := context.Background()

	cfg := &config.Config{
		APIURL:               *apiURL,
		WSURL:                *wsURL,
		StorageDriver:        "memory",
		MaxReconnectAttempts: 5,
	}

	sender := mustClient(cfg, log, "sender")
	defer func() { _ = sender.Close() }()

	receiver := mustClient(cfg, log, "receiver")
	defer func() { _ = receiver.Close() }()

	senderUser := mustLogin(ctx, sender, "john@example.com", "password", *timeout)
	receiverUser := mustLogin(ctx, receiver, "emily@example.com", "password", *timeout)

	mustConnect(ctx, sender, "sender", *timeout)
	mustConnect(ctx, receiver, "receiver", *timeout)

	messages, cancelMessages := receiver.Realtime.Messages()
	defer cancelMessages()
	typing, cancelTyping := receiver.Realtime.Typing()
	defer cancelTyping()
	receipts, cancelReceipts := sender.Realtime.ReadReceipts()
	defer cancelReceipts()

	sender.Realtime.SendTyping(*convID, true)
	select {
	case ti := <-typing:
		if ti.UserID != senderUser.ID || !ti.IsTyping {
			fatalf("typing payload: %+v", ti)
		}
	case <-time.After(*timeout):
		fatalf("no typing indicator received")
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	sender.SendMessage(*convID, receiverUser.ID, *text, clientMsgID)

	select {
	case m := <-messages:
		if m.ClientMsgID != clientMsgID || m.Content != *text {
			fatalf("message mismatch: %+v", m)
		}
		if m.MessageID == "" {
			fatalf("server did not assign a message id")
		}
	case <-time.After(*timeout):
		fatalf("no message received")
	}

	waitUntil(*timeout, "unread total", func() bool { return receiver.Unread.Total() >= 1 })

	receiver.MarkRead(*convID)
	select {
	case r := <-receipts:
		if r.ReaderID != receiverUser.ID || r.ConversationID != *convID {
			fatalf("receipt mismatch: %+v", r)
		}
	case <-time.After(*timeout):
		fatalf("no read receipt received")
	}

	if got := receiver.Unread.Total(); got != 0 {
		fatalf("unread not cleared: %d", got)
	}

	fmt.Printf("OK: sender=%s receiver=%s conv_id=%s client_msg_id=%s\n",
		senderUser.ID, receiverUser.ID, *convID, clientMsgID)
}

func mustClient(cfg *config.Config, log *slog.Logger, name string) *freework.Client {
	c, err := freework.New(cfg, freework.WithLogger(log))
	if err != nil {
		fatalf("build %s client: %v", name, err)
	}
	return c
}

func mustLogin(ctx context.Context, c *freework.Client, email, password string, stepTimeout time.Duration) *authapi.User {
	loginCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	if _, err := c.Session.Login(loginCtx, authapi.Credentials{Email: email, Password: password}); err != nil {
		fatalf("login %s: %v", email, err)
	}
	u := c.Session.CurrentUser()
	if u == nil {
		fatalf("no current user after login %s", email)
	}
	return u
}

func mustConnect(ctx context.Context, c *freework.Client, name string, stepTimeout time.Duration) {
	states, cancel := c.Realtime.StateChanges()
	defer cancel()

	if err := c.ConnectRealtime(ctx); err != nil {
		fatalf("connect %s: %v", name, err)
	}

	deadline := time.After(stepTimeout)
	for {
		select {
		case sc := <-states:
			if sc.State == realtime.StateConnected {
				return
			}
			if sc.Err != nil {
				fatalf("connect %s: %v", name, sc.Err)
			}
		case <-deadline:
			fatalf("connect %s: timeout waiting for connected state", name)
		}
	}
}

func waitUntil(stepTimeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	fatalf("timeout waiting for %s", what)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "chat-smoke: "+format+"\n", args...)
	os.Exit(1)
}
