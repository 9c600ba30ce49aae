package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/directory"
	"CampusConnect/server/internal/events"
	"CampusConnect/server/internal/models"
	"CampusConnect/server/internal/repository"
)

// UpdateGroupInput is a partial update; nil fields are left untouched.
type UpdateGroupInput struct {
	Name        *string
	Description *string
	Avatar      *string
}

// ConversationService implements the conversation/message control API over
// the durable store. Authorization lives here: handlers only translate HTTP,
// the live layer only fans out.
type ConversationService interface {
	CreatePrivate(ctx context.Context, userID, otherUserID int64) (*models.Conversation, error)
	CreateGroup(ctx context.Context, userID int64, name string, memberIDs []int64, description *string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	GetConversation(ctx context.Context, userID, conversationID int64) (*models.ConversationDetail, error)
	UpdateGroup(ctx context.Context, userID, conversationID int64, input UpdateGroupInput) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID int64) error
	LeaveConversation(ctx context.Context, userID, conversationID int64) error
	AddMember(ctx context.Context, userID, conversationID, newMemberID int64) error
	SendMessage(ctx context.Context, userID, conversationID int64, text string) (*models.Message, error)
	ListMessages(ctx context.Context, userID, conversationID int64, offset, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, userID, conversationID int64) error
	DeleteMessage(ctx context.Context, userID, conversationID, messageID int64) error
}

type conversationService struct {
	repo      repository.ConversationRepository
	directory directory.Directory
	publisher events.Publisher
}

func NewConversationService(repo repository.ConversationRepository, dir directory.Directory, publisher events.Publisher) ConversationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &conversationService{repo: repo, directory: dir, publisher: publisher}
}

// CreatePrivate is idempotent: the private conversation between the two users
// is returned instead of creating a duplicate as long as at least one side is
// still in it. A side that left earlier is rejoined on reuse. Only when both
// have left does a fresh conversation get created.
func (s *conversationService) CreatePrivate(ctx context.Context, userID, otherUserID int64) (*models.Conversation, error) {
	if otherUserID <= 0 || otherUserID == userID {
		return nil, errors.Wrap(models.ErrValidation, "invalid recipient")
	}

	existingID, found, err := s.repo.FindActivePrivate(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	if found {
		for _, participantID := range []int64{userID, otherUserID} {
			if err := s.repo.ReactivateParticipant(ctx, existingID, participantID); err != nil {
				return nil, err
			}
		}
		log.Debug().Int64("conversation_id", existingID).Msg("reusing existing private conversation")
		return s.repo.GetByID(ctx, existingID)
	}

	return s.repo.CreatePrivate(ctx, userID, otherUserID)
}

func (s *conversationService) CreateGroup(ctx context.Context, userID int64, name string, memberIDs []int64, description *string) (*models.Conversation, error) {
	if name == "" {
		return nil, errors.Wrap(models.ErrValidation, "group name is required")
	}
	if len(memberIDs) == 0 {
		return nil, errors.Wrap(models.ErrValidation, "at least one member is required")
	}

	creatorName, err := s.directory.DisplayName(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("creator name unavailable, using id")
		creatorName = fmt.Sprintf("user %d", userID)
	}
	systemText := fmt.Sprintf("%s created the group", creatorName)

	return s.repo.CreateGroup(ctx, userID, name, description, memberIDs, systemText)
}

func (s *conversationService) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	summaries, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i, summary := range summaries {
		if summary.Type != models.ConversationTypePrivate || summary.PeerID == 0 {
			continue
		}
		name, err := s.directory.DisplayName(ctx, summary.PeerID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", summary.PeerID).Msg("peer name unavailable")
			continue
		}
		summaries[i].DisplayName = name
	}
	return summaries, nil
}

// GetConversation returns NotFound rather than a permission error for
// conversations the requester is no longer (or never was) part of, so mere
// existence is not leaked.
func (s *conversationService) GetConversation(ctx context.Context, userID, conversationID int64) (*models.ConversationDetail, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.repo.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &models.ConversationDetail{Conversation: *conv, Participants: participants}, nil
}

func (s *conversationService) UpdateGroup(ctx context.Context, userID, conversationID int64, input UpdateGroupInput) (*models.Conversation, error) {
	if err := s.requireGroupAdmin(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if input.Name != nil && *input.Name == "" {
		return nil, errors.Wrap(models.ErrValidation, "group name cannot be empty")
	}

	err := s.repo.UpdateGroup(ctx, conversationID, repository.UpdateGroupFields{
		Name:        input.Name,
		Description: input.Description,
		Avatar:      input.Avatar,
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, conversationID)
}

// DeleteConversation requires admin for groups; either participant may
// delete a private conversation.
func (s *conversationService) DeleteConversation(ctx context.Context, userID, conversationID int64) error {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	role, err := s.repo.ParticipantRole(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotParticipant) {
			return models.ErrConversationNotFound
		}
		return err
	}
	if conv.Type == models.ConversationTypeGroup && role != models.RoleAdmin {
		return models.ErrPermissionDenied
	}

	return s.repo.Delete(ctx, conversationID)
}

func (s *conversationService) LeaveConversation(ctx context.Context, userID, conversationID int64) error {
	err := s.repo.Leave(ctx, conversationID, userID)
	if errors.Is(err, models.ErrNotParticipant) {
		return models.ErrConversationNotFound
	}
	return err
}

func (s *conversationService) AddMember(ctx context.Context, userID, conversationID, newMemberID int64) error {
	if err := s.requireGroupAdmin(ctx, conversationID, userID); err != nil {
		return err
	}

	if _, err := s.repo.ParticipantRole(ctx, conversationID, newMemberID); err == nil {
		// Already an active member; adding again is a no-op.
		return nil
	} else if !errors.Is(err, models.ErrNotParticipant) {
		return err
	}

	return s.repo.AddParticipant(ctx, conversationID, newMemberID, models.RoleMember)
}

// SendMessage persists a message after verifying the sender is an active
// participant. This is the durable half of the live message:send event; the
// client emits the broadcast only after this call succeeds.
func (s *conversationService) SendMessage(ctx context.Context, userID, conversationID int64, text string) (*models.Message, error) {
	if text == "" {
		return nil, errors.Wrap(models.ErrValidation, "message text is required")
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msg, err := s.repo.InsertMessage(ctx, conversationID, userID, text, models.MessageTypeText)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishMessage(ctx, msg); err != nil {
		// Notification fan-out is best effort; the message is already durable.
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("failed to publish message event")
	}
	return msg, nil
}

func (s *conversationService) ListMessages(ctx context.Context, userID, conversationID int64, offset, limit int) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMessages(ctx, conversationID, offset, limit)
}

func (s *conversationService) MarkRead(ctx context.Context, userID, conversationID int64) error {
	err := s.repo.UpdateLastRead(ctx, conversationID, userID, time.Now().UTC())
	if errors.Is(err, models.ErrNotParticipant) {
		return models.ErrConversationNotFound
	}
	return err
}

func (s *conversationService) DeleteMessage(ctx context.Context, userID, conversationID, messageID int64) error {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.SoftDeleteMessage(ctx, conversationID, messageID, userID)
}

func (s *conversationService) requireParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := s.repo.ParticipantRole(ctx, conversationID, userID)
	if errors.Is(err, models.ErrNotParticipant) {
		return models.ErrConversationNotFound
	}
	return err
}

func (s *conversationService) requireGroupAdmin(ctx context.Context, conversationID, userID int64) error {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type != models.ConversationTypeGroup {
		return errors.Wrap(models.ErrValidation, "not a group conversation")
	}

	role, err := s.repo.ParticipantRole(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotParticipant) {
			return models.ErrConversationNotFound
		}
		return err
	}
	if role != models.RoleAdmin {
		return models.ErrPermissionDenied
	}
	return nil
}
