// Package security はアプリケーションのセキュリティ機能を提供する。
//
// Sanitizer はConvertKitから取得した名前や管理画面に表示する通知文を
// bluemondayのポリシーで無害化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は外部由来の文字列を無害化するインターフェース。
type Sanitizer interface {
	// PlainText は全てのタグを取り除いたプレーンテキストを返す。
	// 設定画面の選択肢ラベル（フォーム名・タグ名・カスタムフィールド名）に使う。
	PlainText(s string) string

	// Notice は通知文として安全なHTMLを返す。
	// 許可タグは a, strong, em, p, br のみで、リンクはhttpsに限る。
	Notice(s string) string
}

type sanitizer struct {
	strict *bluemonday.Policy
	notice *bluemonday.Policy
}

// NewSanitizer はSanitizerの新しいインスタンスを生成する。
func NewSanitizer() Sanitizer {
	notice := bluemonday.NewPolicy()
	notice.AllowElements("p", "br", "strong", "em")
	notice.AllowAttrs("href").OnElements("a")
	notice.AllowURLSchemes("https")
	notice.AllowRelativeURLs(false)
	notice.AddTargetBlankToFullyQualifiedLinks(true)
	notice.RequireNoReferrerOnLinks(true)

	return &sanitizer{
		strict: bluemonday.StrictPolicy(),
		notice: notice,
	}
}

// PlainText は全てのタグを取り除く。
// StrictPolicyはエンティティをエスケープしたまま返すため、表示用に戻してから前後の空白を除く。
func (s *sanitizer) PlainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(in)))
}

// Notice は通知文を無害化する。
func (s *sanitizer) Notice(in string) string {
	return s.notice.Sanitize(in)
}
