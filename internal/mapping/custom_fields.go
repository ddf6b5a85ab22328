package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/kitbridge/internal/model"
)

// CustomFieldLister はConvertKitのカスタムフィールド定義を取得する。
type CustomFieldLister interface {
	ListCustomFields(ctx context.Context) ([]model.RemoteCustomField, error)
}

// CustomFieldMapper はフィードのカスタムフィールド設定を現行のスキーマと突き合わせ、
// 送信用の key→value を組み立てる。
type CustomFieldMapper struct {
	lister   CustomFieldLister
	resolver Resolver
	expander Expander
	logger   *slog.Logger
}

// NewCustomFieldMapper はCustomFieldMapperを生成する。
func NewCustomFieldMapper(lister CustomFieldLister, resolver Resolver, expander Expander, logger *slog.Logger) *CustomFieldMapper {
	if resolver == nil {
		resolver = FieldResolver{}
	}
	if expander == nil {
		expander = NewMergeTagExpander(resolver)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomFieldMapper{
		lister:   lister,
		resolver: resolver,
		expander: expander,
		logger:   logger,
	}
}

// Build は現行スキーマに存在するカスタムフィールドだけを対象に値を解決する。
// スキーマに無いキーのマッピングはエラーにせず読み飛ばす。
func (m *CustomFieldMapper) Build(ctx context.Context, form *model.Form, entry *model.Entry, mappings []model.CustomFieldMapping) (map[string]string, error) {
	live, err := m.lister.ListCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("カスタムフィールド一覧の取得に失敗しました: %w", err)
	}

	fields := make(map[string]string)
	for _, cf := range live {
		for _, mapping := range mappings {
			if mapping.Key != cf.Key {
				continue
			}
			if mapping.IsCustomValue() {
				fields[cf.Key] = m.expander.Expand(mapping.CustomValue, form, entry)
			} else {
				fields[cf.Key] = m.resolver.Resolve(form, entry, mapping.Value)
			}
		}
	}

	if dropped := len(distinctKeys(mappings)) - len(fields); dropped > 0 {
		m.logger.Debug("スキーマに存在しないカスタムフィールドを読み飛ばしました",
			slog.Int("count", dropped),
		)
	}
	return fields, nil
}

func distinctKeys(mappings []model.CustomFieldMapping) map[string]struct{} {
	keys := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		if m.Key != "" {
			keys[m.Key] = struct{}{}
		}
	}
	return keys
}
