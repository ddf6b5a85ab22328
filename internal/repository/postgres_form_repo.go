package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresFormRepo はPostgreSQLを使用したフォーム定義リポジトリ。
type PostgresFormRepo struct {
	db *sql.DB
}

var _ FormRepository = (*PostgresFormRepo)(nil)

// NewPostgresFormRepo はPostgresFormRepoを生成する。
func NewPostgresFormRepo(db *sql.DB) *PostgresFormRepo {
	return &PostgresFormRepo{db: db}
}

// FindByID は指定IDのフォームを取得する。見つからない場合はnilを返す。
func (r *PostgresFormRepo) FindByID(ctx context.Context, id string) (*model.Form, error) {
	form := &model.Form{}
	var fields []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, fields FROM forms WHERE id = $1`,
		id,
	).Scan(&form.ID, &form.Title, &fields)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォームの取得に失敗しました: %w", err)
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &form.Fields); err != nil {
			return nil, fmt.Errorf("フォームフィールドのデコードに失敗しました: %w", err)
		}
	}
	return form, nil
}

// Upsert はフォーム定義を作成または上書きする。
func (r *PostgresFormRepo) Upsert(ctx context.Context, form *model.Form) error {
	fields := form.Fields
	if fields == nil {
		fields = []model.FormField{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("フォームフィールドのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO forms (id, title, fields, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title, fields = EXCLUDED.fields, updated_at = now()`,
		form.ID, form.Title, raw,
	)
	if err != nil {
		return fmt.Errorf("フォームの保存に失敗しました: %w", err)
	}
	return nil
}
