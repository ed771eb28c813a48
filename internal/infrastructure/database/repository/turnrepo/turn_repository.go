package turnrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"threadwise/query-api/internal/domain/query"
	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/database/dbschema"
	"threadwise/query-api/internal/infrastructure/database/transaction"
	"threadwise/query-api/internal/utils/functional"
	"threadwise/query-api/internal/utils/platformerrors"
)

// turnsTable is the fully qualified table name for the raw statements that
// bypass the gorm naming strategy.
const turnsTable = "query_api.turns"

type TurnGormRepository struct {
	db *transaction.Database
}

var _ turn.Repository = (*TurnGormRepository)(nil)

func NewTurnGormRepository(db *transaction.Database) turn.Repository {
	return &TurnGormRepository{db}
}

// FindFreshByQuery implements turn.Repository.
func (repo *TurnGormRepository) FindFreshByQuery(ctx context.Context, normalizedQuery string, since time.Time) (*turn.Turn, error) {
	var row dbschema.Turn
	err := repo.db.GetTx(ctx).WithContext(ctx).
		Where("normalized_query = ? AND is_deleted = ? AND created_at >= ?", normalizedQuery, false, since).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to probe result cache")
	}
	return row.EtoD()
}

// TouchReuse implements turn.Repository.
func (repo *TurnGormRepository) TouchReuse(ctx context.Context, id uint) error {
	err := repo.db.GetTx(ctx).WithContext(ctx).
		Model(&dbschema.Turn{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"reuse_count": gorm.Expr("reuse_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to bump reuse counter")
	}
	return nil
}

// UpsertInWindow implements turn.Repository. One statement, so concurrent
// submissions of the same normalized query in the same bucket converge on a
// single row; the conflict branch deliberately leaves chat, owner, creation
// time, votes and reuse counter untouched.
func (repo *TurnGormRepository) UpsertInWindow(ctx context.Context, t *turn.Turn) (*turn.Turn, error) {
	model, err := dbschema.NewSchemaTurn(t)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to encode turn")
	}

	var row dbschema.Turn
	err = repo.db.GetTx(ctx).WithContext(ctx).Raw(`
		INSERT INTO `+turnsTable+`
			(created_at, updated_at, public_id, chat_public_id, owner, query, normalized_query,
			 cache_bucket, response, strategy_used, evidence_ref, is_error, error_kind,
			 error_detail, retry_count, reuse_count, votes, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, FALSE)
		ON CONFLICT (normalized_query, cache_bucket) WHERE is_deleted = FALSE
		DO UPDATE SET
			query = EXCLUDED.query,
			response = EXCLUDED.response,
			strategy_used = EXCLUDED.strategy_used,
			evidence_ref = EXCLUDED.evidence_ref,
			is_error = EXCLUDED.is_error,
			error_kind = EXCLUDED.error_kind,
			error_detail = EXCLUDED.error_detail,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
		RETURNING *`,
		model.CreatedAt, model.UpdatedAt, model.PublicID, model.ChatPublicID, model.Owner,
		model.Query, model.NormalizedQuery, model.CacheBucket, model.Response,
		model.StrategyUsed, model.EvidenceRef, model.IsError, model.ErrorKind,
		model.ErrorDetail, model.RetryCount, model.Votes,
	).Scan(&row).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to upsert turn")
	}
	return row.EtoD()
}

// FindByPublicID implements turn.Repository.
func (repo *TurnGormRepository) FindByPublicID(ctx context.Context, publicID string) (*turn.Turn, error) {
	var row dbschema.Turn
	err := repo.db.GetTx(ctx).WithContext(ctx).
		Where("public_id = ? AND is_deleted = ?", publicID, false).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound, "turn not found", err,
				"a7c52e90-1d48-4b3f-86a9-f30d65b821c7")
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to load turn")
	}
	return row.EtoD()
}

// ListByChat implements turn.Repository.
func (repo *TurnGormRepository) ListByChat(ctx context.Context, chatPublicID string) ([]*turn.Turn, error) {
	var rows []dbschema.Turn
	err := repo.db.GetTx(ctx).WithContext(ctx).
		Where("chat_public_id = ? AND is_deleted = ?", chatPublicID, false).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to list chat turns")
	}

	result := make([]*turn.Turn, 0, len(rows))
	for i := range rows {
		t, err := rows[i].EtoD()
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to decode turn")
		}
		result = append(result, t)
	}
	return result, nil
}

// ListChatPreviews implements turn.Repository. A chat is previewed by its
// earliest turn; chats are ordered newest first by that turn.
func (repo *TurnGormRepository) ListChatPreviews(ctx context.Context, owner string, p *query.Pagination) ([]*turn.ChatPreview, error) {
	type previewRow struct {
		ChatPublicID string
		Query        string
		CreatedAt    time.Time
	}

	limit := turn.ChatPageSize
	offset := 0
	if p != nil {
		if p.Limit != nil {
			limit = *p.Limit
		}
		if p.Offset != nil {
			offset = *p.Offset
		}
	}

	var rows []previewRow
	err := repo.db.GetTx(ctx).WithContext(ctx).Raw(`
		SELECT t.chat_public_id, t.query, t.created_at
		FROM (
			SELECT DISTINCT ON (chat_public_id) chat_public_id, query, created_at
			FROM `+turnsTable+`
			WHERE owner = ? AND is_deleted = FALSE
			ORDER BY chat_public_id, created_at ASC
		) t
		ORDER BY t.created_at DESC
		LIMIT ? OFFSET ?`,
		owner, limit, offset,
	).Scan(&rows).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to list chat previews")
	}

	return functional.Map(rows, func(r previewRow) *turn.ChatPreview {
		return &turn.ChatPreview{
			ChatPublicID: r.ChatPublicID,
			Query:        r.Query,
			CreatedAt:    r.CreatedAt,
		}
	}), nil
}

// SetVote implements turn.Repository. One statement keyed on the voter, so
// concurrent votes by different users never clobber each other and repeat
// votes are no-ops.
func (repo *TurnGormRepository) SetVote(ctx context.Context, publicID, voter string, value int) (bool, error) {
	res := repo.db.GetTx(ctx).WithContext(ctx).Exec(`
		UPDATE `+turnsTable+`
		SET votes = jsonb_set(COALESCE(votes, '{}'::jsonb), ARRAY[?]::text[], to_jsonb(?::int), TRUE),
		    updated_at = ?
		WHERE public_id = ? AND is_deleted = FALSE`,
		voter, value, time.Now().UTC(), publicID,
	)
	if res.Error != nil {
		return false, platformerrors.AsError(ctx, platformerrors.LayerRepository, res.Error, "failed to record vote")
	}
	return res.RowsAffected > 0, nil
}

// SoftDeleteChat implements turn.Repository.
func (repo *TurnGormRepository) SoftDeleteChat(ctx context.Context, chatPublicID, owner string) (int64, error) {
	res := repo.db.GetTx(ctx).WithContext(ctx).
		Model(&dbschema.Turn{}).
		Where("chat_public_id = ? AND owner = ? AND is_deleted = ?", chatPublicID, owner, false).
		UpdateColumns(map[string]any{
			"is_deleted": true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, platformerrors.AsError(ctx, platformerrors.LayerRepository, res.Error, "failed to delete chat")
	}
	return res.RowsAffected, nil
}

// PurgeDeletedBefore implements turn.Repository.
func (repo *TurnGormRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := repo.db.GetTx(ctx).WithContext(ctx).
		Where("is_deleted = ? AND updated_at < ?", true, cutoff).
		Delete(&dbschema.Turn{})
	if res.Error != nil {
		return 0, platformerrors.AsError(ctx, platformerrors.LayerRepository, res.Error, "failed to purge deleted turns")
	}
	return res.RowsAffected, nil
}
