package repository

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/models"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

var _ ConversationRepository = (*PgConversationRepository)(nil)

// FindActivePrivate matches the private conversation between the pair unless
// both sides have left it. A one-sided leave keeps the conversation reusable;
// the leaver's row is reactivated by ReactivateParticipant on reuse.
func (r *PgConversationRepository) FindActivePrivate(ctx context.Context, userID, otherUserID int64) (int64, bool, error) {
	query := psql.Select("c.id").
		From("conversation c").
		Join("conversation_participant cp1 ON c.id = cp1.conversation_id").
		Join("conversation_participant cp2 ON c.id = cp2.conversation_id").
		Where(squirrel.Eq{
			"c.type":      models.ConversationTypePrivate,
			"cp1.user_id": userID,
			"cp2.user_id": otherUserID,
		}).
		Where("(cp1.left_at IS NULL OR cp2.left_at IS NULL)")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, false, errors.Wrap(err, "build query")
	}

	var conversationID int64
	err = r.pool.QueryRow(ctx, sqlStr, args...).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "find active private conversation")
	}
	return conversationID, true, nil
}

func (r *PgConversationRepository) CreatePrivate(ctx context.Context, creatorID, otherUserID int64) (*models.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conv, err := insertConversation(ctx, tx, &models.Conversation{
		Type:      models.ConversationTypePrivate,
		CreatedBy: creatorID,
	})
	if err != nil {
		return nil, err
	}

	for _, userID := range []int64{creatorID, otherUserID} {
		if err := insertParticipant(ctx, tx, conv.ID, userID, models.RoleMember); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}

	log.Info().Int64("conversation_id", conv.ID).Int64("creator_id", creatorID).Msg("private conversation created")
	return conv, nil
}

func (r *PgConversationRepository) CreateGroup(ctx context.Context, creatorID int64, name string, description *string, memberIDs []int64, systemText string) (*models.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conv, err := insertConversation(ctx, tx, &models.Conversation{
		Type:        models.ConversationTypeGroup,
		Name:        &name,
		Description: description,
		CreatedBy:   creatorID,
	})
	if err != nil {
		return nil, err
	}

	if err := insertParticipant(ctx, tx, conv.ID, creatorID, models.RoleAdmin); err != nil {
		return nil, err
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if err := insertParticipant(ctx, tx, conv.ID, memberID, models.RoleMember); err != nil {
			return nil, err
		}
	}

	query := psql.Insert("message").
		Columns("conversation_id", "sender_id", "message_text", "message_type").
		Values(conv.ID, creatorID, systemText, models.MessageTypeSystem)
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return nil, errors.Wrap(err, "insert system message")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}

	log.Info().Int64("conversation_id", conv.ID).Int64("creator_id", creatorID).Int("members", len(memberIDs)).Msg("group conversation created")
	return conv, nil
}

// listByUserSQL annotates every conversation the user actively participates
// in with its last message preview, unread count, active-participant count
// and, for private conversations, the peer's id.
const listByUserSQL = `
SELECT c.id, c.type, c.name, c.description, c.avatar, c.created_by, c.created_at, c.updated_at,
       (SELECT m.message_text FROM message m
         WHERE m.conversation_id = c.id AND NOT m.is_deleted
         ORDER BY m.created_at DESC LIMIT 1)                             AS last_message,
       (SELECT m.created_at FROM message m
         WHERE m.conversation_id = c.id AND NOT m.is_deleted
         ORDER BY m.created_at DESC LIMIT 1)                             AS last_message_at,
       (SELECT COUNT(*) FROM message m
         WHERE m.conversation_id = c.id AND NOT m.is_deleted
           AND m.sender_id <> cp.user_id
           AND (cp.last_read_at IS NULL OR m.created_at > cp.last_read_at)) AS unread_count,
       (SELECT COUNT(*) FROM conversation_participant ap
         WHERE ap.conversation_id = c.id AND ap.left_at IS NULL)          AS participant_count,
       (SELECT p.user_id FROM conversation_participant p
         WHERE p.conversation_id = c.id AND p.user_id <> cp.user_id AND p.left_at IS NULL
         LIMIT 1)                                                        AS peer_id
FROM conversation c
JOIN conversation_participant cp
  ON cp.conversation_id = c.id AND cp.user_id = $1 AND cp.left_at IS NULL
ORDER BY COALESCE((SELECT MAX(m.created_at) FROM message m WHERE m.conversation_id = c.id), c.created_at) DESC
`

func (r *PgConversationRepository) ListByUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	rows, err := r.pool.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list conversations for user %d", userID)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var peerID *int64
		err := rows.Scan(&s.ID, &s.Type, &s.Name, &s.Description, &s.Avatar, &s.CreatedBy,
			&s.CreatedAt, &s.UpdatedAt, &s.LastMessage, &s.LastMessageAt,
			&s.UnreadCount, &s.ParticipantCount, &peerID)
		if err != nil {
			return nil, errors.Wrap(err, "scan conversation summary")
		}
		if peerID != nil {
			s.PeerID = *peerID
		}
		if s.Name != nil {
			s.DisplayName = *s.Name
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate conversation summaries")
	}
	return summaries, nil
}

func (r *PgConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := psql.Select("id", "type", "name", "description", "avatar", "created_by", "created_at", "updated_at").
		From("conversation").
		Where(squirrel.Eq{"id": conversationID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	var conv models.Conversation
	err = r.pool.QueryRow(ctx, sqlStr, args...).Scan(&conv.ID, &conv.Type, &conv.Name,
		&conv.Description, &conv.Avatar, &conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrConversationNotFound
		}
		return nil, errors.Wrapf(err, "get conversation %d", conversationID)
	}
	return &conv, nil
}

func (r *PgConversationRepository) ActiveParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	query := psql.Select("conversation_id", "user_id", "role", "joined_at", "left_at", "last_read_at", "is_muted").
		From("conversation_participant").
		Where(squirrel.And{
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Eq{"left_at": nil},
		}).
		OrderBy("joined_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "participants of conversation %d", conversationID)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.LastReadAt, &p.IsMuted)
		if err != nil {
			return nil, errors.Wrap(err, "scan participant")
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate participants")
	}
	return participants, nil
}

func (r *PgConversationRepository) ParticipantRole(ctx context.Context, conversationID, userID int64) (string, error) {
	query := psql.Select("role").
		From("conversation_participant").
		Where(squirrel.And{
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Eq{"user_id": userID},
			squirrel.Eq{"left_at": nil},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build query")
	}

	var role string
	err = r.pool.QueryRow(ctx, sqlStr, args...).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotParticipant
		}
		return "", errors.Wrapf(err, "role of user %d in conversation %d", userID, conversationID)
	}
	return role, nil
}

func (r *PgConversationRepository) AddParticipant(ctx context.Context, conversationID, userID int64, role string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertParticipant(ctx, tx, conversationID, userID, role); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// ReactivateParticipant clears left_at on the user's departed row, restoring
// their membership. A no-op when the row is already active.
func (r *PgConversationRepository) ReactivateParticipant(ctx context.Context, conversationID, userID int64) error {
	query := psql.Update("conversation_participant").
		Set("left_at", nil).
		Where(squirrel.Eq{
			"conversation_id": conversationID,
			"user_id":         userID,
		}).
		Where("left_at IS NOT NULL")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrapf(err, "reactivate participant %d in conversation %d", userID, conversationID)
	}
	return nil
}

func (r *PgConversationRepository) UpdateGroup(ctx context.Context, conversationID int64, fields UpdateGroupFields) error {
	update := psql.Update("conversation").
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": conversationID})
	if fields.Name != nil {
		update = update.Set("name", *fields.Name)
	}
	if fields.Description != nil {
		update = update.Set("description", *fields.Description)
	}
	if fields.Avatar != nil {
		update = update.Set("avatar", *fields.Avatar)
	}

	sqlStr, args, err := update.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}

	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrapf(err, "update conversation %d", conversationID)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConversationNotFound
	}
	return nil
}

// Delete removes the conversation; participants and messages go with it via
// the schema's ON DELETE CASCADE.
func (r *PgConversationRepository) Delete(ctx context.Context, conversationID int64) error {
	query := psql.Delete("conversation").Where(squirrel.Eq{"id": conversationID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}

	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrapf(err, "delete conversation %d", conversationID)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConversationNotFound
	}
	log.Info().Int64("conversation_id", conversationID).Msg("conversation deleted")
	return nil
}

// Leave closes the participant row instead of deleting it, so history stays
// attributable.
func (r *PgConversationRepository) Leave(ctx context.Context, conversationID, userID int64) error {
	query := psql.Update("conversation_participant").
		Set("left_at", squirrel.Expr("now()")).
		Where(squirrel.And{
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Eq{"user_id": userID},
			squirrel.Eq{"left_at": nil},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}

	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrapf(err, "leave conversation %d", conversationID)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotParticipant
	}
	return nil
}

func (r *PgConversationRepository) InsertMessage(ctx context.Context, conversationID, senderID int64, text, messageType string) (*models.Message, error) {
	query := psql.Insert("message").
		Columns("conversation_id", "sender_id", "message_text", "message_type").
		Values(conversationID, senderID, text, messageType).
		Suffix("RETURNING id, created_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Type:           messageType,
	}
	err = r.pool.QueryRow(ctx, sqlStr, args...).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "insert message into conversation %d", conversationID)
	}
	return msg, nil
}

func (r *PgConversationRepository) ListMessages(ctx context.Context, conversationID int64, offset, limit int) ([]models.Message, error) {
	query := psql.Select("id", "conversation_id", "sender_id", "message_text", "message_type", "is_deleted", "created_at").
		From("message").
		Where(squirrel.Eq{"conversation_id": conversationID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages of conversation %d", conversationID)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Type, &m.IsDeleted, &m.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if m.IsDeleted {
			m.Text = ""
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return messages, nil
}

func (r *PgConversationRepository) SoftDeleteMessage(ctx context.Context, conversationID, messageID, senderID int64) error {
	query := psql.Select("sender_id").
		From("message").
		Where(squirrel.And{
			squirrel.Eq{"id": messageID},
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Eq{"is_deleted": false},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}

	var owner int64
	err = r.pool.QueryRow(ctx, sqlStr, args...).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrMessageNotFound
		}
		return errors.Wrapf(err, "load message %d", messageID)
	}
	if owner != senderID {
		return models.ErrPermissionDenied
	}

	update := psql.Update("message").
		Set("is_deleted", true).
		Where(squirrel.Eq{"id": messageID})
	sqlStr, args, err = update.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	_, err = r.pool.Exec(ctx, sqlStr, args...)
	return errors.Wrapf(err, "soft delete message %d", messageID)
}

func (r *PgConversationRepository) UpdateLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	query := psql.Update("conversation_participant").
		Set("last_read_at", at).
		Where(squirrel.And{
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Eq{"user_id": userID},
			squirrel.Eq{"left_at": nil},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}

	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrapf(err, "update last_read_at in conversation %d", conversationID)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotParticipant
	}
	return nil
}

func insertConversation(ctx context.Context, tx pgx.Tx, conv *models.Conversation) (*models.Conversation, error) {
	query := psql.Insert("conversation").
		Columns("type", "name", "description", "avatar", "created_by").
		Values(conv.Type, conv.Name, conv.Description, conv.Avatar, conv.CreatedBy).
		Suffix("RETURNING id, created_at, updated_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	err = tx.QueryRow(ctx, sqlStr, args...).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert conversation")
	}
	return conv, nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, conversationID, userID int64, role string) error {
	query := psql.Insert("conversation_participant").
		Columns("conversation_id", "user_id", "role").
		Values(conversationID, userID, role)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrapf(err, "insert participant %d", userID)
	}
	return nil
}
