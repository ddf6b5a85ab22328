package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresLegacyRepo は旧アドオンが残したオプションとフィードテーブルを読み書きする。
type PostgresLegacyRepo struct {
	db *sql.DB
}

var _ LegacyRepository = (*PostgresLegacyRepo)(nil)

// NewPostgresLegacyRepo はPostgresLegacyRepoを生成する。
func NewPostgresLegacyRepo(db *sql.DB) *PostgresLegacyRepo {
	return &PostgresLegacyRepo{db: db}
}

// GetOption はオプション値をdstにデコードする。存在しない場合は false を返す。
func (r *PostgresLegacyRepo) GetOption(ctx context.Context, name string, dst any) (bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM legacy_options WHERE name = $1`,
		name,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("オプション %s の取得に失敗しました: %w", name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("オプション %s のデコードに失敗しました: %w", name, err)
	}
	return true, nil
}

// SetOption はオプション値を保存する。
func (r *PostgresLegacyRepo) SetOption(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("オプション %s のエンコードに失敗しました: %w", name, err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO legacy_options (name, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		name, raw,
	)
	if err != nil {
		return fmt.Errorf("オプション %s の保存に失敗しました: %w", name, err)
	}
	return nil
}

// TableExists はテーブルが存在するかを返す。
func (r *PostgresLegacyRepo) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT to_regclass($1) IS NOT NULL`,
		table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("テーブル %s の存在確認に失敗しました: %w", table, err)
	}
	return exists, nil
}

// ListFeeds は旧フィードテーブルから指定アドオンのフィードを返す。
// テーブル名は識別子としてクォートする。
func (r *PostgresLegacyRepo) ListFeeds(ctx context.Context, table, addonSlug string) ([]LegacyFeedRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id::text, form_id::text, is_active, meta::text FROM `+pq.QuoteIdentifier(table)+`
		 WHERE addon_slug = $1 ORDER BY id`,
		addonSlug,
	)
	if err != nil {
		return nil, fmt.Errorf("旧フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	feeds := []LegacyFeedRow{}
	for rows.Next() {
		var row LegacyFeedRow
		var meta sql.NullString
		if err := rows.Scan(&row.ID, &row.FormID, &row.IsActive, &meta); err != nil {
			return nil, fmt.Errorf("旧フィードの読み取りに失敗しました: %w", err)
		}
		row.Meta = []byte(nullStringValue(meta))
		feeds = append(feeds, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("旧フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}
