package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	v1 "freework/contracts/realtime/v1"
)

// client is one accepted WebSocket connection. The write lock exists because
// fan-out may hit the same connection from several reader goroutines.
type client struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) send(ctx context.Context, env v1.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, env)
}

// hub tracks connected clients and routes frames between them.
type hub struct {
	s *Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(s *Server) *hub {
	return &hub{s: s, clients: make(map[*client]struct{})}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	acct, err := h.s.authenticate(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		h.s.log.Warn("dev.ws.accept", "err", err)
		return
	}

	cl := &client{userID: acct.user.ID, conn: conn}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.s.log.Info("dev.ws.connected", "user", cl.userID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.s.log.Info("dev.ws.disconnected", "user", cl.userID)
	}()

	ctx := r.Context()
	for {
		var env v1.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		if err := env.Validate(); err != nil {
			h.s.log.Warn("dev.ws.invalid_frame", "user", cl.userID, "err", err)
			continue
		}
		h.route(ctx, cl, env)
	}
}

func (h *hub) route(ctx context.Context, from *client, env v1.Envelope) {
	switch env.Type {
	case v1.TypeMessage:
		var p v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.s.log.Warn("dev.ws.bad_payload", "type", env.Type, "err", err)
			return
		}
		h.handleMessage(ctx, from, p)

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.s.log.Warn("dev.ws.bad_payload", "type", env.Type, "err", err)
			return
		}
		p.UserID = from.userID
		p.UserName = h.displayName(from.userID)
		h.broadcast(ctx, v1.TypeTyping, p, func(c *client) bool { return c.userID != from.userID })

	case v1.TypeMarkRead:
		var p v1.MarkReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.s.log.Warn("dev.ws.bad_payload", "type", env.Type, "err", err)
			return
		}
		h.s.clearUnread(from.userID, p.ConversationID)
		receipt := v1.ReadReceiptPayload{
			ConversationID: p.ConversationID,
			ReaderID:       from.userID,
			ReadAt:         time.Now().UTC(),
		}
		h.broadcast(ctx, v1.TypeReadReceipt, receipt, func(*client) bool { return true })

	default:
		// NOTIFICATION and READ_RECEIPT are server-originated only.
		h.s.log.Warn("dev.ws.unexpected_type", "type", env.Type, "user", from.userID)
	}
}

func (h *hub) handleMessage(ctx context.Context, from *client, p v1.MessagePayload) {
	p.MessageID = uuid.NewString()
	p.SenderID = from.userID
	p.SenderName = h.displayName(from.userID)
	p.SentAt = time.Now().UTC()

	// Deliver to both parties: the receiver sees the message, the sender
	// sees the server-assigned id echoed back against its client_msg_id.
	h.broadcast(ctx, v1.TypeMessage, p, func(c *client) bool {
		return c.userID == p.ReceiverID || c.userID == from.userID
	})

	if p.ReceiverID == "" || p.ReceiverID == from.userID {
		return
	}
	total := h.s.bumpUnread(p.ReceiverID, p.ConversationID)
	notification := v1.NotificationPayload{
		ConversationID: p.ConversationID,
		Message:        p,
		TotalUnread:    total,
	}
	h.broadcast(ctx, v1.TypeNotification, notification, func(c *client) bool {
		return c.userID == p.ReceiverID
	})
}

// broadcast fans an envelope out to every connected client the filter admits.
func (h *hub) broadcast(ctx context.Context, envType string, payload any, want func(*client) bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.s.log.Error("dev.ws.marshal", "type", envType, "err", err)
		return
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    envType,
		ID:      ulid.Make().String(),
		TS:      time.Now().UTC(),
		Payload: raw,
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if want(c) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(ctx, env); err != nil {
			h.s.log.Warn("dev.ws.send", "user", c.userID, "err", err)
		}
	}
}

func (h *hub) displayName(userID string) string {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if acct := h.s.byID[userID]; acct != nil {
		return acct.user.FirstName + " " + acct.user.LastName
	}
	return userID
}
