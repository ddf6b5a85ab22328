// Package legacy は旧ConvertKitアドオン（ckgf）からの移行処理を提供する。
//
// 旧アドオンのAPI認証情報の引き継ぎ、フィードの取り込み、旧アドオンの無効化を行う。
// いずれも冪等で、ワーカー起動時と管理APIのアップグレード要求時に実行される。
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
)

const (
	// OptionSettings は旧アドオンの設定が保存されているオプション名。
	OptionSettings = "gravityformsaddon_ckgf_settings"
	// OptionPluginActive は旧アドオンが有効かどうかを保持するオプション名。
	OptionPluginActive = "ckgf_plugin_active"
	// AddonSlug は旧アドオンのフィードを識別するスラッグ。
	AddonSlug = "ckgf"
	// NoticeKeyDisabled は旧アドオンを無効化したことを知らせる通知のキー。
	NoticeKeyDisabled = "gf_convertkit_disable_message"

	feedTable      = "gf_addon_feed"
	noticeDisabled = "In order to prevent conflicts, we disabled the existing ConvertKit for Gravity Forms plugin."
)

// 旧フィードのメタデータで文字列として扱うキーと真偽値として扱うキー。
var (
	stringMetaKeys = []string{"feed_name", "form_id", "tag_id", "field_map_email", "field_map_name", "field_map_tag"}
	boolMetaKeys   = []string{"feed_condition_conditional_logic", "delay_payment"}
)

// SettingsStore はアドオン設定の読み書きを行う。
// 保存時にキャッシュの無効化とAPIクライアントの破棄を行う addon.Addon が満たす。
type SettingsStore interface {
	PluginSettings(ctx context.Context) (model.PluginSettings, error)
	UpdatePluginSettings(ctx context.Context, settings model.PluginSettings) error
}

// PostMigrateHook はフィード移行後に旧フィードID→新フィードIDの対応を受け取る。
type PostMigrateHook func(ctx context.Context, migrationMap map[string]string)

// Report はUpgradeの実行結果。
type Report struct {
	Deactivated   bool              `json:"deactivated"`
	PopulatedKeys bool              `json:"populated_keys"`
	MigratedFeeds map[string]string `json:"migrated_feeds"`
}

// Migrator は旧アドオンからの移行を行う。
type Migrator struct {
	legacy      repository.LegacyRepository
	feeds       repository.FeedRepository
	notices     repository.NoticeRepository
	settings    SettingsStore
	tablePrefix string
	logger      *slog.Logger
	hooks       []PostMigrateHook

	nowFn func() time.Time
	idFn  func() string
}

// NewMigrator はMigratorを生成する。tablePrefixは旧フィードテーブル名の接頭辞（例: "wp_"）。
func NewMigrator(
	legacy repository.LegacyRepository,
	feeds repository.FeedRepository,
	notices repository.NoticeRepository,
	settings SettingsStore,
	tablePrefix string,
	logger *slog.Logger,
) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		legacy:      legacy,
		feeds:       feeds,
		notices:     notices,
		settings:    settings,
		tablePrefix: tablePrefix,
		logger:      logger,
		nowFn:       time.Now,
		idFn:        uuid.NewString,
	}
}

// OnPostMigrate はフィード移行後に呼ばれるフックを登録する。起動時に呼ぶ。
func (m *Migrator) OnPostMigrate(h PostMigrateHook) {
	if h != nil {
		m.hooks = append(m.hooks, h)
	}
}

// Upgrade は旧アドオンの無効化、API認証情報の引き継ぎ、フィード移行を順に実行する。
func (m *Migrator) Upgrade(ctx context.Context) (*Report, error) {
	deactivated, err := m.DeactivateLegacyPlugin(ctx)
	if err != nil {
		return nil, err
	}
	populated, err := m.PopulateAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	migrated, err := m.MigrateFeeds(ctx)
	if err != nil {
		return nil, err
	}
	if migrated == nil {
		migrated = map[string]string{}
	}
	return &Report{Deactivated: deactivated, PopulatedKeys: populated, MigratedFeeds: migrated}, nil
}

// PopulateAPIKey は未設定のAPI Key / API Secretを旧アドオンの設定から引き継ぐ。
// 設定を更新した場合は true を返す。
func (m *Migrator) PopulateAPIKey(ctx context.Context) (bool, error) {
	var old struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	found, err := m.legacy.GetOption(ctx, OptionSettings, &old)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	settings, err := m.settings.PluginSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("アドオン設定の取得に失敗しました: %w", err)
	}

	update := false
	if settings.APIKey == "" && old.APIKey != "" {
		settings.APIKey = old.APIKey
		update = true
	}
	if settings.APISecret == "" && old.APISecret != "" {
		settings.APISecret = old.APISecret
		update = true
	}
	if !update {
		return false, nil
	}

	if err := m.settings.UpdatePluginSettings(ctx, settings); err != nil {
		return false, fmt.Errorf("アドオン設定の保存に失敗しました: %w", err)
	}
	m.logger.Info("旧アドオンのAPI認証情報を引き継ぎました")
	return true, nil
}

// MigrateFeeds は旧アドオンのフィードを取り込み、旧ID→新IDの対応を返す。
// 取り込み済み、旧テーブルが無い、または対象フィードが無い場合は何もせず nil を返す。
func (m *Migrator) MigrateFeeds(ctx context.Context) (map[string]string, error) {
	settings, err := m.settings.PluginSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("アドオン設定の取得に失敗しました: %w", err)
	}
	if settings.ImportedFeeds {
		return nil, nil
	}

	table := m.tablePrefix + feedTable
	exists, err := m.legacy.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := m.legacy.ListFeeds(ctx, table, AddonSlug)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	migrationMap := make(map[string]string, len(rows))
	for i, row := range rows {
		meta, err := convertMeta(row.Meta)
		if err != nil {
			m.logger.Warn("旧フィードのメタデータを変換できないため読み飛ばします",
				slog.String("legacy_feed_id", row.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		now := m.nowFn()
		feed := &model.Feed{
			ID:        m.idFn(),
			FormID:    row.FormID,
			IsActive:  row.IsActive,
			FeedOrder: i,
			Meta:      meta,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.feeds.Create(ctx, feed); err != nil {
			return nil, fmt.Errorf("旧フィード %s の取り込みに失敗しました: %w", row.ID, err)
		}
		migrationMap[row.ID] = feed.ID
	}

	settings.ImportedFeeds = true
	if err := m.settings.UpdatePluginSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("アドオン設定の保存に失敗しました: %w", err)
	}

	m.logger.Info("旧アドオンのフィードを取り込みました",
		slog.String("table", table),
		slog.Int("feed_count", len(migrationMap)),
	)

	for _, h := range m.hooks {
		h(ctx, migrationMap)
	}
	return migrationMap, nil
}

// DeactivateLegacyPlugin は旧アドオンが有効な場合に無効化し、サイト全体通知を登録する。
// 無効化した場合は true を返す。
func (m *Migrator) DeactivateLegacyPlugin(ctx context.Context) (bool, error) {
	var active bool
	found, err := m.legacy.GetOption(ctx, OptionPluginActive, &active)
	if err != nil {
		return false, err
	}
	if !found || !active {
		return false, nil
	}

	if err := m.legacy.SetOption(ctx, OptionPluginActive, false); err != nil {
		return false, err
	}
	notice := &model.Notice{
		Key:       NoticeKeyDisabled,
		Message:   noticeDisabled,
		Type:      "warning",
		CreatedAt: m.nowFn(),
	}
	if err := m.notices.Add(ctx, notice); err != nil {
		return false, fmt.Errorf("通知の登録に失敗しました: %w", err)
	}

	m.logger.Warn("旧アドオンを無効化しました")
	return true, nil
}

// convertMeta は旧フィードのメタデータを現行の形式に変換する。
// field_map_e / field_map_n をそれぞれ field_map_email / field_map_name に移す。
func convertMeta(raw []byte) (model.FeedMeta, error) {
	var meta map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return model.FeedMeta{}, err
		}
	}
	if meta == nil {
		meta = map[string]any{}
	}

	meta["field_map_email"] = meta["field_map_e"]
	meta["field_map_name"] = meta["field_map_n"]
	delete(meta, "field_map_e")
	delete(meta, "field_map_n")

	normalizeMeta(meta)

	encoded, err := json.Marshal(meta)
	if err != nil {
		return model.FeedMeta{}, err
	}
	return model.DecodeFeedMeta(encoded)
}

// normalizeMeta は旧アドオンが数値や "1"/"0" で保存した値を現行の型に揃える。
func normalizeMeta(meta map[string]any) {
	for _, key := range stringMetaKeys {
		switch v := meta[key].(type) {
		case float64:
			meta[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			meta[key] = strconv.FormatBool(v)
		}
	}
	for _, key := range boolMetaKeys {
		switch v := meta[key].(type) {
		case string:
			meta[key] = v == "1" || v == "true"
		case float64:
			meta[key] = v != 0
		}
	}
}
