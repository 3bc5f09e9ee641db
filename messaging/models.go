// Package messaging holds the chat domain records and the unread-count
// tracker fed by the realtime notification stream.
package messaging

import "time"

// MessageType discriminates message content.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Message is one chat message within a conversation.
type Message struct {
	ID             string              `json:"id,omitempty"`
	ConversationID string              `json:"conversationId"`
	SenderID       string              `json:"senderId"`
	SenderName     string              `json:"senderName"`
	SenderAvatar   string              `json:"senderAvatar,omitempty"`
	ReceiverID     string              `json:"receiverId"`
	Content        string              `json:"content"`
	Timestamp      time.Time           `json:"timestamp"`
	Read           bool                `json:"read"`
	Type           MessageType         `json:"type"`
	Attachments    []MessageAttachment `json:"attachments,omitempty"`
}

// MessageAttachment is a file attached to a message.
type MessageAttachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Conversation is a two-party thread, optionally anchored to a job posting.
type Conversation struct {
	ID                 string    `json:"id"`
	ParticipantIDs     []string  `json:"participantIds"`
	ParticipantNames   []string  `json:"participantNames"`
	ParticipantAvatars []string  `json:"participantAvatars,omitempty"`
	LastMessage        *Message  `json:"lastMessage,omitempty"`
	UnreadCount        int       `json:"unreadCount"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	JobID              string    `json:"jobId,omitempty"`
	JobTitle           string    `json:"jobTitle,omitempty"`
}

// SendMessageRequest starts or continues a conversation over the REST API.
type SendMessageRequest struct {
	ConversationID string      `json:"conversationId,omitempty"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type,omitempty"`
	JobID          string      `json:"jobId,omitempty"`
}

// ConversationListResponse is the conversation index with the aggregate
// unread count the server computed.
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
	TotalUnread   int            `json:"totalUnread"`
}

// TypingIndicator reports a participant typing in a conversation.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}
