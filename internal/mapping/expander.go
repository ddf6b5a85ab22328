package mapping

import (
	"regexp"

	"github.com/hitoshi/kitbridge/internal/model"
)

// Expander はテンプレート中のマージタグをエントリの値で展開する。
type Expander interface {
	Expand(template string, form *model.Form, entry *model.Entry) string
}

var (
	mergeTagPattern   = regexp.MustCompile(`\{([^{}]+)\}`)
	fieldTagPattern   = regexp.MustCompile(`^(.*):(\d+(?:\.\d+)?)(?::[^:]*)?$`)
	fieldTagIDPattern = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

// MergeTagExpander はExpanderの標準実装。
// {Label:ID}, {Label:ID:modifier} とエントリ/フォームの予約タグに対応する。
// 未知のタグはそのまま残す。
type MergeTagExpander struct {
	resolver Resolver
}

var _ Expander = (*MergeTagExpander)(nil)

// NewMergeTagExpander はMergeTagExpanderを生成する。resolverがnilの場合はFieldResolverを使う。
func NewMergeTagExpander(resolver Resolver) *MergeTagExpander {
	if resolver == nil {
		resolver = FieldResolver{}
	}
	return &MergeTagExpander{resolver: resolver}
}

// HasMergeTag はテンプレートにマージタグが含まれるかを返す。
func HasMergeTag(s string) bool {
	return mergeTagPattern.MatchString(s)
}

// Expand はテンプレート中のマージタグを展開する。
func (e *MergeTagExpander) Expand(template string, form *model.Form, entry *model.Entry) string {
	if !HasMergeTag(template) {
		return template
	}
	return mergeTagPattern.ReplaceAllStringFunc(template, func(tag string) string {
		v, ok := e.lookup(tag[1:len(tag)-1], form, entry)
		if !ok {
			return tag
		}
		return v
	})
}

func (e *MergeTagExpander) lookup(name string, form *model.Form, entry *model.Entry) (string, bool) {
	switch name {
	case "entry_id":
		return entryValue(entry, func(en *model.Entry) string { return en.ID })
	case "form_id":
		if form == nil {
			return "", false
		}
		return form.ID, true
	case "form_title":
		if form == nil {
			return "", false
		}
		return form.Title, true
	case "embed_url":
		return entryValue(entry, func(en *model.Entry) string { return en.SourceURL })
	case "ip":
		return entryValue(entry, func(en *model.Entry) string { return en.IP })
	case "date_mdy":
		return entryValue(entry, func(en *model.Entry) string {
			if en.CreatedAt.IsZero() {
				return ""
			}
			return en.CreatedAt.UTC().Format("01/02/2006")
		})
	}

	// {3} のようなID単体のタグ
	if fieldTagIDPattern.MatchString(name) {
		return e.resolver.Resolve(form, entry, name), true
	}

	m := fieldTagPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return e.resolver.Resolve(form, entry, m[2]), true
}

func entryValue(entry *model.Entry, get func(*model.Entry) string) (string, bool) {
	if entry == nil {
		return "", false
	}
	return get(entry), true
}
