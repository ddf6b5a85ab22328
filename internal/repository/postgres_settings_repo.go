package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用した設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

var _ SettingsRepository = (*PostgresSettingsRepo)(nil)

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// GetPluginSettings はアドオン全体の設定を返す。未保存の場合はゼロ値を返す。
func (r *PostgresSettingsRepo) GetPluginSettings(ctx context.Context) (model.PluginSettings, error) {
	var s model.PluginSettings
	err := r.db.QueryRowContext(ctx,
		`SELECT api_key, api_secret, imported_feeds FROM plugin_settings WHERE id = 1`,
	).Scan(&s.APIKey, &s.APISecret, &s.ImportedFeeds)

	if err == sql.ErrNoRows {
		return model.PluginSettings{}, nil
	}
	if err != nil {
		return model.PluginSettings{}, fmt.Errorf("アドオン設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// SavePluginSettings はアドオン全体の設定を保存する。
func (r *PostgresSettingsRepo) SavePluginSettings(ctx context.Context, s model.PluginSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plugin_settings (id, api_key, api_secret, imported_feeds, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET
		    api_key = EXCLUDED.api_key,
		    api_secret = EXCLUDED.api_secret,
		    imported_feeds = EXCLUDED.imported_feeds,
		    updated_at = now()`,
		s.APIKey, s.APISecret, s.ImportedFeeds,
	)
	if err != nil {
		return fmt.Errorf("アドオン設定の保存に失敗しました: %w", err)
	}
	return nil
}

// GetFormSettings はフォーム設定を返す。未保存の場合はFormIDのみ設定したゼロ値を返す。
func (r *PostgresSettingsRepo) GetFormSettings(ctx context.Context, formID string) (model.FormSettings, error) {
	s := model.FormSettings{FormID: formID}
	err := r.db.QueryRowContext(ctx,
		`SELECT enable_creator_network_recommendations FROM form_settings WHERE form_id = $1`,
		formID,
	).Scan(&s.EnableCreatorNetworkRecommendations)

	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return model.FormSettings{}, fmt.Errorf("フォーム設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// SaveFormSettings はフォーム設定を保存する。
func (r *PostgresSettingsRepo) SaveFormSettings(ctx context.Context, s model.FormSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO form_settings (form_id, enable_creator_network_recommendations, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (form_id) DO UPDATE SET
		    enable_creator_network_recommendations = EXCLUDED.enable_creator_network_recommendations,
		    updated_at = now()`,
		s.FormID, s.EnableCreatorNetworkRecommendations,
	)
	if err != nil {
		return fmt.Errorf("フォーム設定の保存に失敗しました: %w", err)
	}
	return nil
}
