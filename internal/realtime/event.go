package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client-to-server event names.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageRead       = "message:read"
	EventMessageDelete     = "message:delete"
	EventGroupCreated      = "group:created"
	EventGroupMemberAdded  = "group:member-added"
)

// Server-to-client event names not shared with the inbound set.
const (
	EventConversationJoined = "conversation:joined"
	EventMessageNew         = "message:new"
	EventMessageDeleted     = "message:deleted"
	EventGroupAdded         = "group:added"
	EventUserOnline         = "user:online"
	EventUserOffline        = "user:offline"
)

// Envelope is the wire shape of every live event, inbound and outbound.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is an outbound event before encoding.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound payloads, one type per client event.

type ConversationRef struct {
	ConversationID int64 `json:"conversationId"`
}

type SendMessage struct {
	ConversationID int64   `json:"conversationId"`
	MessageID      int64   `json:"messageId"`
	Message        string  `json:"message"`
	RecipientIDs   []int64 `json:"recipientIds"`
}

type ReadMessage struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

type DeleteMessage struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

type GroupCreated struct {
	ConversationID int64   `json:"conversationId"`
	MemberIDs      []int64 `json:"memberIds"`
	GroupName      string  `json:"groupName"`
}

type GroupMemberAdded struct {
	ConversationID int64 `json:"conversationId"`
	NewMemberID    int64 `json:"newMemberId"`
}

// DecodeInbound parses the envelope's data into the payload type matching
// its event name, so the dispatcher switches over concrete types instead of
// probing field presence.
func DecodeInbound(env Envelope) (any, error) {
	var (
		payload any
		err     error
	)
	switch env.Event {
	case EventConversationJoin, EventConversationLeave, EventTypingStart, EventTypingStop:
		var p ConversationRef
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventMessageSend:
		var p SendMessage
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventMessageRead:
		var p ReadMessage
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventMessageDelete:
		var p DeleteMessage
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventGroupCreated:
		var p GroupCreated
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventGroupMemberAdded:
		var p GroupMemberAdded
		err = json.Unmarshal(env.Data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return payload, nil
}

// Outbound payloads.

type UserPresence struct {
	UserID int64 `json:"userId"`
}

type MemberJoined struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type TypingChange struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type MessageNew struct {
	ConversationID int64     `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	Message        string    `json:"message"`
	SenderID       int64     `json:"senderId"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageRead struct {
	ConversationID int64     `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	ReadBy         int64     `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type MessageDeleted struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
	DeletedBy      int64 `json:"deletedBy"`
}

type GroupNotice struct {
	ConversationID int64   `json:"conversationId"`
	GroupName      string  `json:"groupName,omitempty"`
	MemberIDs      []int64 `json:"memberIds,omitempty"`
	NewMemberID    int64   `json:"newMemberId,omitempty"`
	ActorID        int64   `json:"actorId"`
}
