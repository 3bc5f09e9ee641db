package freework

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freework/authapi"
	"freework/config"
	"freework/internal/devserver"
	"freework/realtime"
)

func testConfig(srv *httptest.Server) *config.Config {
	return &config.Config{
		APIURL:               srv.URL + "/api",
		WSURL:                "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		StorageDriver:        "memory",
		MaxReconnectAttempts: 5,
	}
}

func newStack(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()
	backend, err := devserver.New(devserver.WithLogger(quiet()))
	if err != nil {
		t.Fatalf("devserver: %v", err)
	}
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return srv, testConfig(srv)
}

func newClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	c, err := New(cfg, WithLogger(quiet()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_LoginScenario(t *testing.T) {
	_, cfg := newStack(t)
	c := newClient(t, cfg)
	ctx := context.Background()

	if err := c.ConnectRealtime(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("connect before login: %v", err)
	}

	sess, err := c.Session.Login(ctx, authapi.Credentials{
		Email:    "john@example.com",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.UserID != "freelancer1" || sess.Role != authapi.RoleFreelancer {
		t.Fatalf("session: %+v", sess)
	}
	if sess.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	if !c.Session.IsAuthenticated(ctx) {
		t.Fatalf("not authenticated after login")
	}

	if err := c.ConnectRealtime(ctx); err != nil {
		t.Fatalf("connect realtime: %v", err)
	}
	waitFor(t, "connected", func() bool { return c.Realtime.State() == realtime.StateConnected })
}

func TestClient_MessageRoundTripAndUnread(t *testing.T) {
	_, cfg := newStack(t)
	ctx := context.Background()

	john := newClient(t, cfg)
	emily := newClient(t, cfg)

	if _, err := john.Session.Login(ctx, authapi.Credentials{Email: "john@example.com", Password: "password"}); err != nil {
		t.Fatalf("login john: %v", err)
	}
	if _, err := emily.Session.Login(ctx, authapi.Credentials{Email: "emily@example.com", Password: "password"}); err != nil {
		t.Fatalf("login emily: %v", err)
	}
	if err := john.ConnectRealtime(ctx); err != nil {
		t.Fatalf("connect john: %v", err)
	}
	if err := emily.ConnectRealtime(ctx); err != nil {
		t.Fatalf("connect emily: %v", err)
	}
	waitFor(t, "john connected", func() bool { return john.Realtime.State() == realtime.StateConnected })
	waitFor(t, "emily connected", func() bool { return emily.Realtime.State() == realtime.StateConnected })

	messages, cancelMessages := emily.Realtime.Messages()
	defer cancelMessages()
	receipts, cancelReceipts := john.Realtime.ReadReceipts()
	defer cancelReceipts()

	john.SendMessage("conv-1", "emily-chen", "hello emily", "cm-1")

	select {
	case m := <-messages:
		if m.Content != "hello emily" || m.SenderID != "freelancer1" || m.MessageID == "" {
			t.Fatalf("message: %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("emily received no message")
	}

	waitFor(t, "unread total", func() bool { return emily.Unread.Total() == 1 })

	emily.MarkRead("conv-1")
	if got := emily.Unread.Total(); got != 0 {
		t.Fatalf("unread after mark read: %d", got)
	}

	select {
	case r := <-receipts:
		if r.ReaderID != "emily-chen" || r.ConversationID != "conv-1" {
			t.Fatalf("receipt: %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("john received no read receipt")
	}
}

func TestClient_LogoutTearsDownRealtime(t *testing.T) {
	_, cfg := newStack(t)
	c := newClient(t, cfg)
	ctx := context.Background()

	if _, err := c.Session.Login(ctx, authapi.Credentials{Email: "john@example.com", Password: "password"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := c.ConnectRealtime(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return c.Realtime.State() == realtime.StateConnected })
	c.Unread.SetTotal(3)

	c.Session.Logout(ctx)

	waitFor(t, "disconnected", func() bool { return c.Realtime.State() == realtime.StateDisconnected })
	if c.Session.CurrentUser() != nil {
		t.Fatalf("user survives logout")
	}
	if c.Session.IsAuthenticated(ctx) {
		t.Fatalf("still authenticated after logout")
	}
	if got := c.Unread.Total(); got != 0 {
		t.Fatalf("unread survives logout: %d", got)
	}

	// The teardown was a deliberate close, not a drop: nothing reconnects.
	time.Sleep(100 * time.Millisecond)
	if c.Realtime.State() != realtime.StateDisconnected {
		t.Fatalf("channel reconnected after logout")
	}
}
