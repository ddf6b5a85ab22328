// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, settings, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFormNotFound         = "FORM_NOT_FOUND"
	ErrCodeFeedNotFound         = "FEED_NOT_FOUND"
	ErrCodeEntryNotFound        = "ENTRY_NOT_FOUND"
	ErrCodeNoticeNotFound       = "NOTICE_NOT_FOUND"
	ErrCodeInvalidFeed          = "INVALID_FEED"
	ErrCodeAddonNotConfigured   = "ADDON_NOT_CONFIGURED"
	ErrCodeDuplicateNotAllowed  = "DUPLICATE_NOT_ALLOWED"
	ErrCodeInvalidSettingsField = "INVALID_SETTINGS_FIELD"
)

// NewFormNotFoundError はフォーム未検出エラーを生成する。
func NewFormNotFoundError(formID string) *APIError {
	return &APIError{
		Code:     ErrCodeFormNotFound,
		Message:  fmt.Sprintf("指定されたフォームが見つかりません: %s", formID),
		Category: "feed",
		Action:   "フォームIDを確認するか、先にフォーム定義を登録してください。",
	}
}

// NewFeedNotFoundError はフィード設定未検出エラーを生成する。
func NewFeedNotFoundError(feedID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", feedID),
		Category: "feed",
		Action:   "フィードIDを確認してください。",
	}
}

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定されたエントリが見つかりません: %s", entryID),
		Category: "feed",
		Action:   "エントリIDを確認してください。",
	}
}

// NewNoticeNotFoundError は通知未検出エラーを生成する。
func NewNoticeNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeNoticeNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", key),
		Category: "settings",
		Action:   "通知キーを確認してください。",
	}
}

// NewInvalidFeedError はフィード設定の入力エラーを生成する。
func NewInvalidFeedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeed,
		Message:  fmt.Sprintf("フィード設定が不正です: %s", reason),
		Category: "validation",
		Action:   "メールアドレスのフィールドマッピングとConvertKitフォームを指定してください。",
	}
}

// NewAddonNotConfiguredError はAPI認証情報が未設定または無効な場合のエラーを生成する。
func NewAddonNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeAddonNotConfigured,
		Message:  "ConvertKit APIに接続できません。",
		Category: "settings",
		Action:   "設定画面でAPI KeyとAPI Secretを確認してください。",
	}
}

// NewDuplicateNotAllowedError はフィード複製が禁止されている場合のエラーを生成する。
func NewDuplicateNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateNotAllowed,
		Message:  "ConvertKitフィードは複製できません。",
		Category: "feed",
		Action:   "新しいフィードを作成してください。",
	}
}

// NewInvalidSettingsFieldError は未知の設定フィールドが指定された場合のエラーを生成する。
func NewInvalidSettingsFieldError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSettingsField,
		Message:  fmt.Sprintf("検証できない設定フィールドです: %s", name),
		Category: "validation",
		Action:   "convertkit_api_key または convertkit_api_secret を指定してください。",
	}
}

// ErrorKind はフィード処理中に発生するエラーの分類。
type ErrorKind string

const (
	// KindValidation はメールアドレスの欠落・不正など投稿データの問題。
	KindValidation ErrorKind = "validation"
	// KindConfiguration はAPI未初期化などアドオン設定の問題。
	KindConfiguration ErrorKind = "configuration"
	// KindRemoteFetch はタグ・カスタムフィールド・フォーム一覧の取得失敗。
	KindRemoteFetch ErrorKind = "remote_fetch"
	// KindUnexpectedResponseShape はリモートのレスポンス形式が想定と異なる場合。
	KindUnexpectedResponseShape ErrorKind = "unexpected_response_shape"
	// KindTransport はDNS・タイムアウト・TLSなどの通信失敗。
	KindTransport ErrorKind = "transport"
	// KindRemoteAPI はリモートAPIが200以外を返した場合。
	KindRemoteAPI ErrorKind = "remote_api"
)

// ProcessError はフィード処理の失敗を分類付きで表す。
type ProcessError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *ProcessError) Error() string {
	return e.Message
}

// Unwrap は元のエラーを返す。
func (e *ProcessError) Unwrap() error {
	return e.Err
}
