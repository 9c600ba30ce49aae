package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CampusConnect/server/internal/models"
	"CampusConnect/server/internal/repository"
)

// fakeRepository is an in-memory ConversationRepository with the same
// semantics the Postgres implementation has, used to test the service's
// business rules without a database.
type fakeRepository struct {
	mu            sync.Mutex
	nextConvID    int64
	nextMessageID int64
	base          time.Time
	conversations map[int64]*models.Conversation
	participants  map[int64][]*models.Participant // conversation id -> rows
	messages      map[int64][]*models.Message
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		// Message timestamps count up from here so they are strictly ordered
		// and always in the past relative to read watermarks.
		base:          time.Now().Add(-time.Hour),
		conversations: make(map[int64]*models.Conversation),
		participants:  make(map[int64][]*models.Participant),
		messages:      make(map[int64][]*models.Message),
	}
}

var _ repository.ConversationRepository = (*fakeRepository)(nil)

func (f *fakeRepository) activeRow(conversationID, userID int64) *models.Participant {
	for _, p := range f.participants[conversationID] {
		if p.UserID == userID && p.Active() {
			return p
		}
	}
	return nil
}

func (f *fakeRepository) anyRow(conversationID, userID int64) *models.Participant {
	for _, p := range f.participants[conversationID] {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// FindActivePrivate matches the pair's private conversation unless both sides
// have left it, mirroring the Postgres query.
func (f *fakeRepository) FindActivePrivate(_ context.Context, userID, otherUserID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, conv := range f.conversations {
		if conv.Type != models.ConversationTypePrivate {
			continue
		}
		p1 := f.anyRow(id, userID)
		p2 := f.anyRow(id, otherUserID)
		if p1 == nil || p2 == nil {
			continue
		}
		if p1.Active() || p2.Active() {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeRepository) CreatePrivate(_ context.Context, creatorID, otherUserID int64) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv := f.insertConversation(&models.Conversation{
		Type:      models.ConversationTypePrivate,
		CreatedBy: creatorID,
	})
	f.insertParticipant(conv.ID, creatorID, models.RoleMember)
	f.insertParticipant(conv.ID, otherUserID, models.RoleMember)
	return conv, nil
}

func (f *fakeRepository) CreateGroup(_ context.Context, creatorID int64, name string, description *string, memberIDs []int64, systemText string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv := f.insertConversation(&models.Conversation{
		Type:        models.ConversationTypeGroup,
		Name:        &name,
		Description: description,
		CreatedBy:   creatorID,
	})
	f.insertParticipant(conv.ID, creatorID, models.RoleAdmin)
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		f.insertParticipant(conv.ID, memberID, models.RoleMember)
	}
	f.insertMessage(conv.ID, creatorID, systemText, models.MessageTypeSystem)
	return conv, nil
}

func (f *fakeRepository) ListByUser(_ context.Context, userID int64) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var summaries []models.ConversationSummary
	for id, conv := range f.conversations {
		row := f.activeRow(id, userID)
		if row == nil {
			continue
		}

		s := models.ConversationSummary{Conversation: *conv}
		if conv.Name != nil {
			s.DisplayName = *conv.Name
		}
		for _, p := range f.participants[id] {
			if p.Active() {
				s.ParticipantCount++
				if p.UserID != userID {
					s.PeerID = p.UserID
				}
			}
		}
		for _, m := range f.messages[id] {
			if m.IsDeleted {
				continue
			}
			text := m.Text
			s.LastMessage = &text
			at := m.CreatedAt
			s.LastMessageAt = &at
			if m.SenderID != userID && (row.LastReadAt == nil || m.CreatedAt.After(*row.LastReadAt)) {
				s.UnreadCount++
			}
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

func (f *fakeRepository) GetByID(_ context.Context, conversationID int64) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeRepository) ActiveParticipants(_ context.Context, conversationID int64) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Participant
	for _, p := range f.participants[conversationID] {
		if p.Active() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepository) ParticipantRole(_ context.Context, conversationID, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if row := f.activeRow(conversationID, userID); row != nil {
		return row.Role, nil
	}
	return "", models.ErrNotParticipant
}

func (f *fakeRepository) AddParticipant(_ context.Context, conversationID, userID int64, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conversations[conversationID]; !ok {
		return models.ErrConversationNotFound
	}
	f.insertParticipant(conversationID, userID, role)
	return nil
}

func (f *fakeRepository) ReactivateParticipant(_ context.Context, conversationID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if row := f.anyRow(conversationID, userID); row != nil {
		row.LeftAt = nil
	}
	return nil
}

func (f *fakeRepository) UpdateGroup(_ context.Context, conversationID int64, fields repository.UpdateGroupFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	if fields.Name != nil {
		conv.Name = fields.Name
	}
	if fields.Description != nil {
		conv.Description = fields.Description
	}
	if fields.Avatar != nil {
		conv.Avatar = fields.Avatar
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepository) Delete(_ context.Context, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conversations[conversationID]; !ok {
		return models.ErrConversationNotFound
	}
	delete(f.conversations, conversationID)
	delete(f.participants, conversationID)
	delete(f.messages, conversationID)
	return nil
}

func (f *fakeRepository) Leave(_ context.Context, conversationID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.activeRow(conversationID, userID)
	if row == nil {
		return models.ErrNotParticipant
	}
	now := time.Now()
	row.LeftAt = &now
	return nil
}

func (f *fakeRepository) InsertMessage(_ context.Context, conversationID, senderID int64, text, messageType string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conversations[conversationID]; !ok {
		return nil, models.ErrConversationNotFound
	}
	msg := f.insertMessage(conversationID, senderID, text, messageType)
	copied := *msg
	return &copied, nil
}

func (f *fakeRepository) ListMessages(_ context.Context, conversationID int64, offset, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.messages[conversationID]
	var out []models.Message
	for i := len(msgs) - 1; i >= 0; i-- { // newest first
		out = append(out, *msgs[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) SoftDeleteMessage(_ context.Context, conversationID, messageID, senderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages[conversationID] {
		if m.ID != messageID || m.IsDeleted {
			continue
		}
		if m.SenderID != senderID {
			return models.ErrPermissionDenied
		}
		m.IsDeleted = true
		return nil
	}
	return models.ErrMessageNotFound
}

func (f *fakeRepository) UpdateLastRead(_ context.Context, conversationID, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.activeRow(conversationID, userID)
	if row == nil {
		return models.ErrNotParticipant
	}
	row.LastReadAt = &at
	return nil
}

func (f *fakeRepository) insertConversation(conv *models.Conversation) *models.Conversation {
	f.nextConvID++
	conv.ID = f.nextConvID
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	f.conversations[conv.ID] = conv
	return conv
}

func (f *fakeRepository) insertParticipant(conversationID, userID int64, role string) {
	f.participants[conversationID] = append(f.participants[conversationID], &models.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now(),
	})
}

func (f *fakeRepository) insertMessage(conversationID, senderID int64, text, messageType string) *models.Message {
	f.nextMessageID++
	msg := &models.Message{
		ID:             f.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Type:           messageType,
		CreatedAt:      f.base.Add(time.Duration(f.nextMessageID) * time.Millisecond),
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return msg
}

// fakeDirectory maps ids to canned names.
type fakeDirectory struct {
	names map[int64]string
}

func (d *fakeDirectory) DisplayName(_ context.Context, userID int64) (string, error) {
	if name, ok := d.names[userID]; ok {
		return name, nil
	}
	return "", models.ErrUserNotFound
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []*models.Message
	fail     bool
}

func (p *recordingPublisher) PublishMessage(_ context.Context, msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
