package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したアドオンフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

var _ FeedRepository = (*PostgresFeedRepo)(nil)

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, form_id, is_active, feed_order, meta, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var meta []byte
	if err := s.Scan(
		&feed.ID, &feed.FormID, &feed.IsActive, &feed.FeedOrder,
		&meta, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}
	decoded, err := model.DecodeFeedMeta(meta)
	if err != nil {
		return nil, fmt.Errorf("フィードメタのデコードに失敗しました: %w", err)
	}
	feed.Meta = decoded
	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM addon_feeds WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// ListByFormID はフォームのフィードを feed_order 順に返す。
func (r *PostgresFeedRepo) ListByFormID(ctx context.Context, formID string, activeOnly bool) ([]*model.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM addon_feeds WHERE form_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY feed_order ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	feeds := []*model.Feed{}
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	meta, err := json.Marshal(feed.Meta)
	if err != nil {
		return fmt.Errorf("フィードメタのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO addon_feeds (id, form_id, is_active, feed_order, meta, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		feed.ID, feed.FormID, feed.IsActive, feed.FeedOrder, meta,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はフィードを更新する。
func (r *PostgresFeedRepo) Update(ctx context.Context, feed *model.Feed) (bool, error) {
	meta, err := json.Marshal(feed.Meta)
	if err != nil {
		return false, fmt.Errorf("フィードメタのエンコードに失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE addon_feeds SET
		    form_id = $2, is_active = $3, feed_order = $4, meta = $5, updated_at = $6
		 WHERE id = $1`,
		feed.ID, feed.FormID, feed.IsActive, feed.FeedOrder, meta, feed.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("フィードの更新に失敗しました: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("フィードの更新件数の取得に失敗しました: %w", err)
	}
	return ok, nil
}

// Delete はフィードを削除する。関連するジョブは外部キーにより削除される。
func (r *PostgresFeedRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM addon_feeds WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("フィードの削除件数の取得に失敗しました: %w", err)
	}
	return ok, nil
}
