// Package v1 defines the FreeWork realtime wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the client channel and the dev backend so the wire
// protocol stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated during the handshake.
const Subprotocol = "freework.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeMessage carries a chat message (server -> client, and client -> server for sends).
	TypeMessage = "MESSAGE"
	// TypeTyping carries a typing indicator (both directions).
	TypeTyping = "TYPING"
	// TypeNotification carries an unread/new-message notification (server -> client).
	TypeNotification = "NOTIFICATION"
	// TypeReadReceipt confirms messages in a conversation were read (server -> client).
	TypeReadReceipt = "READ_RECEIPT"
	// TypeMarkRead requests marking a conversation read (client -> server).
	TypeMarkRead = "MARK_READ"
)

// Envelope is the canonical wire wrapper. Every frame carries a type
// discriminant and a nested payload matching that type.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeMessage,
		TypeTyping,
		TypeNotification,
		TypeReadReceipt,
		TypeMarkRead:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// MessagePayload carries one chat message.
type MessagePayload struct {
	MessageID      string    `json:"message_id,omitempty"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at,omitempty"`
}

// TypingPayload signals that a user started or stopped typing in a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// NotificationPayload announces a new message plus the account-wide unread total.
type NotificationPayload struct {
	ConversationID string         `json:"conversation_id"`
	Message        MessagePayload `json:"message"`
	TotalUnread    int            `json:"total_unread"`
}

// ReadReceiptPayload confirms a conversation was read up to a point in time.
type ReadReceiptPayload struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkReadPayload asks the server to mark a conversation read.
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
}
