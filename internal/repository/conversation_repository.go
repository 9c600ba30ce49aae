package repository

import (
	"context"
	"time"

	"CampusConnect/server/internal/models"
)

// UpdateGroupFields carries a partial group update; nil fields keep their
// current value.
type UpdateGroupFields struct {
	Name        *string
	Description *string
	Avatar      *string
}

// ConversationRepository is the durable conversation store. Multi-row
// operations (conversation creation with its participant rows and any
// system message) are atomic: either every row lands or none does.
type ConversationRepository interface {
	FindActivePrivate(ctx context.Context, userID, otherUserID int64) (int64, bool, error)
	CreatePrivate(ctx context.Context, creatorID, otherUserID int64) (*models.Conversation, error)
	CreateGroup(ctx context.Context, creatorID int64, name string, description *string, memberIDs []int64, systemText string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
	ActiveParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	ParticipantRole(ctx context.Context, conversationID, userID int64) (string, error)
	AddParticipant(ctx context.Context, conversationID, userID int64, role string) error
	ReactivateParticipant(ctx context.Context, conversationID, userID int64) error
	UpdateGroup(ctx context.Context, conversationID int64, fields UpdateGroupFields) error
	Delete(ctx context.Context, conversationID int64) error
	Leave(ctx context.Context, conversationID, userID int64) error
	InsertMessage(ctx context.Context, conversationID, senderID int64, text, messageType string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, offset, limit int) ([]models.Message, error)
	SoftDeleteMessage(ctx context.Context, conversationID, messageID, senderID int64) error
	UpdateLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error
}
