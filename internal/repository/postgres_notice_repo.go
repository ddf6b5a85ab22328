package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresNoticeRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNoticeRepo struct {
	db *sql.DB
}

var _ NoticeRepository = (*PostgresNoticeRepo)(nil)

// NewPostgresNoticeRepo はPostgresNoticeRepoを生成する。
func NewPostgresNoticeRepo(db *sql.DB) *PostgresNoticeRepo {
	return &PostgresNoticeRepo{db: db}
}

// Add は通知を登録する。同じキーが既にある場合は閉じた状態を維持する。
func (r *PostgresNoticeRepo) Add(ctx context.Context, n *model.Notice) error {
	noticeType := n.Type
	if noticeType == "" {
		noticeType = "info"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notices (key, message, notice_type, dismissed, created_at)
		 VALUES ($1, $2, $3, false, now())
		 ON CONFLICT (key) DO UPDATE SET
		    message = EXCLUDED.message, notice_type = EXCLUDED.notice_type`,
		n.Key, n.Message, noticeType,
	)
	if err != nil {
		return fmt.Errorf("通知の登録に失敗しました: %w", err)
	}
	return nil
}

// ListActive は閉じられていない通知を登録順に返す。
func (r *PostgresNoticeRepo) ListActive(ctx context.Context) ([]*model.Notice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, message, notice_type, dismissed, created_at
		 FROM notices WHERE dismissed = false
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notices := []*model.Notice{}
	for rows.Next() {
		n := &model.Notice{}
		if err := rows.Scan(&n.Key, &n.Message, &n.Type, &n.Dismissed, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗しました: %w", err)
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗しました: %w", err)
	}
	return notices, nil
}

// Dismiss は通知を閉じる。
func (r *PostgresNoticeRepo) Dismiss(ctx context.Context, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notices SET dismissed = true WHERE key = $1`,
		key,
	)
	if err != nil {
		return false, fmt.Errorf("通知の非表示化に失敗しました: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("通知の更新件数の取得に失敗しました: %w", err)
	}
	return ok, nil
}
