package model

import "time"

// PluginSettings はアドオン全体の設定。1行のみ保持する。
type PluginSettings struct {
	APIKey        string `json:"convertkit_api_key"`
	APISecret     string `json:"convertkit_api_secret"`
	ImportedFeeds bool   `json:"imported_feeds"`
}

// FormSettings はフォーム単位のアドオン設定。
type FormSettings struct {
	FormID                              string `json:"form_id"`
	EnableCreatorNetworkRecommendations bool   `json:"enable_creator_network_recommendations"`
}

// SettingsSection は設定画面のセクション記述子。
type SettingsSection struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Fields      []SettingsField `json:"fields"`
}

// SettingsField は設定画面の1フィールドの記述子。
// 描画はホスト側が行い、ここでは構造のみを返す。
type SettingsField struct {
	Name          string          `json:"name"`
	Label         string          `json:"label"`
	Type          string          `json:"type"`
	Class         string          `json:"class,omitempty"`
	Required      bool            `json:"required,omitempty"`
	Tooltip       string          `json:"tooltip,omitempty"`
	Description   string          `json:"description,omitempty"`
	DefaultValue  string          `json:"default_value,omitempty"`
	Choices       []Choice        `json:"choices,omitempty"`
	FieldMap      []FieldMapEntry `json:"field_map,omitempty"`
	KeyChoices    []Choice        `json:"key_choices,omitempty"`
	AllowCustom   bool            `json:"allow_custom,omitempty"`
	DisableCustom bool            `json:"disable_custom,omitempty"`
	Feedback      bool            `json:"feedback,omitempty"`
}

// Choice はセレクトボックスの選択肢。
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FieldMapEntry はフィールドマップの1行。
type FieldMapEntry struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Required   bool     `json:"required"`
	FieldTypes []string `json:"field_type,omitempty"`
}

// Notice はサイト全体に表示される閉じられる通知。
type Notice struct {
	Key       string
	Message   string
	Type      string // warning | error | success | info
	Dismissed bool
	CreatedAt time.Time
}

// FeedListColumn はフィード一覧の列定義。
type FeedListColumn struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}
