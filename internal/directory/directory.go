package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/cache"
	"CampusConnect/server/internal/models"
)

// Directory resolves platform user ids to display names. User accounts are
// owned by the rest of the platform; the conversation core only reads them.
type Directory interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

const nameTTL = 10 * time.Minute

type PgDirectory struct {
	pool  *pgxpool.Pool
	cache cache.Cache
}

func NewPgDirectory(pool *pgxpool.Pool, c cache.Cache) *PgDirectory {
	if c == nil {
		c = cache.NewMemory()
	}
	return &PgDirectory{pool: pool, cache: c}
}

func (d *PgDirectory) DisplayName(ctx context.Context, userID int64) (string, error) {
	key := fmt.Sprintf("user:name:%d", userID)
	if name, err := d.cache.Get(ctx, key); err == nil {
		return name, nil
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("username").
		From("users").
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return "", errors.Wrap(err, "directory: build query")
	}

	var name string
	err = d.pool.QueryRow(ctx, sqlStr, args...).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrUserNotFound
		}
		return "", errors.Wrapf(err, "directory: user %d", userID)
	}

	if err := d.cache.Set(ctx, key, name, nameTTL); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to cache display name")
	}
	return name, nil
}
