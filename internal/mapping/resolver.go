// Package mapping はフォーム送信値からConvertKitへ送る値を組み立てる。
// フィールド値の解決、マージタグ展開、タグ集約、カスタムフィールド対応付けを担う。
package mapping

import (
	"strings"

	"github.com/hitoshi/kitbridge/internal/model"
)

// エントリのメタ情報を参照するための予約フィールドID。
const (
	metaEntryID     = "id"
	metaFormID      = "form_id"
	metaDateCreated = "date_created"
	metaSourceURL   = "source_url"
	metaIP          = "ip"
)

const dateCreatedLayout = "2006-01-02 15:04:05"

// Resolver はマッピングされたフィールドIDからエントリの値を取り出す。
type Resolver interface {
	Resolve(form *model.Form, entry *model.Entry, fieldID string) string
}

// FieldResolver はResolverの標準実装。
// 未マッピングまたは値が無い場合は空文字列を返す。
type FieldResolver struct{}

var _ Resolver = FieldResolver{}

// Resolve はフィールドIDに対応する値を返す。
func (FieldResolver) Resolve(form *model.Form, entry *model.Entry, fieldID string) string {
	fieldID = strings.TrimSpace(fieldID)
	if fieldID == "" || entry == nil {
		return ""
	}

	if v, ok := entry.Values[fieldID]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	switch fieldID {
	case metaEntryID:
		return entry.ID
	case metaFormID:
		return entry.FormID
	case metaDateCreated:
		if entry.CreatedAt.IsZero() {
			return ""
		}
		return entry.CreatedAt.UTC().Format(dateCreatedLayout)
	case metaSourceURL:
		return entry.SourceURL
	case metaIP:
		return entry.IP
	}

	// 名前・住所・チェックボックスのような複合フィールドはサブ入力の値を連結する
	if strings.Contains(fieldID, ".") {
		return ""
	}
	field := form.FieldByID(fieldID)
	if field == nil || field.ID != fieldID || len(field.Inputs) == 0 {
		return ""
	}

	sep := " "
	if field.Type == "checkbox" {
		sep = ", "
	}
	parts := make([]string, 0, len(field.Inputs))
	for _, in := range field.Inputs {
		if v := strings.TrimSpace(entry.Values[in.ID]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
