package models

import (
	"time"
)

const (
	ConversationTypePrivate = "private"
	ConversationTypeGroup   = "group"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Conversation struct {
	ID          int64     `json:"id" db:"id"`
	Type        string    `json:"type" db:"type"`
	Name        *string   `json:"name,omitempty" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	Avatar      *string   `json:"avatar,omitempty" db:"avatar"`
	CreatedBy   int64     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Participant struct {
	ConversationID int64      `json:"conversation_id" db:"conversation_id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	Role           string     `json:"role" db:"role"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty" db:"left_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	IsMuted        bool       `json:"is_muted" db:"is_muted"`
}

// Active reports whether the participant row is current, i.e. the user has
// not left the conversation.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// ConversationSummary is one row of a user's conversation list. DisplayName
// is the group name for groups and the peer's name for private conversations.
type ConversationSummary struct {
	Conversation
	DisplayName      string     `json:"display_name"`
	LastMessage      *string    `json:"last_message,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	UnreadCount      int        `json:"unread_count"`
	ParticipantCount int        `json:"participant_count"`

	// PeerID is set for private conversations only; it identifies the other
	// active participant so the display name can be resolved.
	PeerID int64 `json:"-"`
}

// ConversationDetail is the get-by-id response: the conversation plus its
// active participants.
type ConversationDetail struct {
	Conversation
	Participants []Participant `json:"participants"`
}
