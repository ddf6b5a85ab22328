package model

import "encoding/json"

// RemoteForm はConvertKit側のフォーム。
type RemoteForm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RemoteTag はConvertKit側のタグ。
type RemoteTag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RemoteCustomField はConvertKit側のカスタムフィールド定義。
type RemoteCustomField struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Label string `json:"label"`
}

// RecommendationsScript はCreator Network Recommendationsのスクリプト設定。
type RecommendationsScript struct {
	Enabled bool   `json:"enabled"`
	EmbedJS string `json:"embed_js"`
}

// SubscribeEvent は購読成功時に下流のオブザーバーへ渡されるイベント。
type SubscribeEvent struct {
	Response     json.RawMessage   `json:"response"`
	RemoteFormID string            `json:"form_id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	Fields       map[string]string `json:"fields,omitempty"`
	TagIDs       []int64           `json:"tags,omitempty"`
	EntryID      string            `json:"entry_id"`
	FeedID       string            `json:"feed_id"`
}
