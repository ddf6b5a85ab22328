// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// CustomFieldValueSentinel はカスタムフィールドマッピングで
// 「固定値またはマージタグ付きテンプレートを使う」ことを示す値。
const CustomFieldValueSentinel = "gf_custom"

// Feed はホストフォームとConvertKitフォームを結び付ける設定を表す。
type Feed struct {
	ID        string
	FormID    string // ホスト側フォームID
	IsActive  bool
	FeedOrder int
	Meta      FeedMeta
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedMeta はフィード設定画面で保存されるメタデータ。
type FeedMeta struct {
	FeedName      string `json:"feed_name"`
	RemoteFormID  string `json:"form_id"`
	TagID         string `json:"tag_id"`
	FieldMapEmail string `json:"field_map_email"`
	FieldMapName  string `json:"field_map_name"`
	FieldMapTag   string `json:"field_map_tag"`

	CustomFields []CustomFieldMapping `json:"convertkit_custom_fields"`

	ConditionEnabled bool              `json:"feed_condition_conditional_logic"`
	Condition        *ConditionalLogic `json:"feed_condition_conditional_logic_object,omitempty"`

	// DelayPayment が true の場合、支払い完了までフィード処理を遅延する。
	DelayPayment bool `json:"delay_payment"`
}

// CustomFieldMapping はConvertKitカスタムフィールドキーと値の取得元の対応を表す。
// Value が CustomFieldValueSentinel の場合は CustomValue を使う。
type CustomFieldMapping struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	CustomValue string `json:"custom_value"`
}

// IsCustomValue は固定値/テンプレートによる上書きかどうかを返す。
func (m CustomFieldMapping) IsCustomValue() bool {
	return m.Value == CustomFieldValueSentinel
}

// ConditionalLogic はフィードを実行するかどうかの条件を表す。
type ConditionalLogic struct {
	ActionType string          `json:"actionType"` // show | hide
	LogicType  string          `json:"logicType"`  // all | any
	Rules      []ConditionRule `json:"rules"`
}

// ConditionRule は条件の1ルール。
type ConditionRule struct {
	FieldID  string `json:"fieldId"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Validate はフィード処理に必須の項目が揃っているかを検証する。
func (m FeedMeta) Validate() error {
	if m.FieldMapEmail == "" {
		return NewInvalidFeedError("field_map_email が未設定です")
	}
	if m.RemoteFormID == "" {
		return NewInvalidFeedError("form_id が未設定です")
	}
	return nil
}

// DecodeFeedMeta はJSONからFeedMetaを復元する。
func DecodeFeedMeta(raw []byte) (FeedMeta, error) {
	var meta FeedMeta
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}
