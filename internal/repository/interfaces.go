// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/kitbridge/internal/model"
)

// FormRepository はホストから登録されたフォーム定義の永続化インターフェース。
type FormRepository interface {
	// FindByID は指定IDのフォームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Form, error)

	// Upsert はフォーム定義を作成または上書きする。
	Upsert(ctx context.Context, form *model.Form) error
}

// EntryRepository はフォーム送信エントリの永続化インターフェース。
type EntryRepository interface {
	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Entry, error)

	// Create はエントリを作成する。
	Create(ctx context.Context, entry *model.Entry) error

	// UpdatePaymentStatus はエントリの支払い状態を更新する。
	// 更新対象が無い場合は false を返す。
	UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus) (bool, error)
}

// NoteRepository はエントリノートの永続化インターフェース。
// ノートは追記のみで、更新・削除は行わない。
type NoteRepository interface {
	// Add はノートを追記する。
	Add(ctx context.Context, note *model.Note) error

	// ListByEntryID はエントリのノートを記録順に返す。
	ListByEntryID(ctx context.Context, entryID string) ([]*model.Note, error)
}

// FeedRepository はアドオンフィード設定の永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// ListByFormID はフォームのフィードを feed_order 順に返す。
	// activeOnly が true の場合は有効なフィードのみ返す。
	ListByFormID(ctx context.Context, formID string, activeOnly bool) ([]*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// Update はフィードを更新する。更新対象が無い場合は false を返す。
	Update(ctx context.Context, feed *model.Feed) (bool, error)

	// Delete はフィードを削除する。削除対象が無い場合は false を返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// SettingsRepository はアドオン設定とフォーム設定の永続化インターフェース。
type SettingsRepository interface {
	// GetPluginSettings はアドオン全体の設定を返す。未保存の場合はゼロ値を返す。
	GetPluginSettings(ctx context.Context) (model.PluginSettings, error)

	// SavePluginSettings はアドオン全体の設定を保存する。
	SavePluginSettings(ctx context.Context, settings model.PluginSettings) error

	// GetFormSettings はフォーム設定を返す。未保存の場合はゼロ値（FormIDのみ設定）を返す。
	GetFormSettings(ctx context.Context, formID string) (model.FormSettings, error)

	// SaveFormSettings はフォーム設定を保存する。
	SaveFormSettings(ctx context.Context, settings model.FormSettings) error
}

// JobRepository はフィード処理ジョブキューの永続化インターフェース。
type JobRepository interface {
	// Enqueue はジョブを登録する。
	Enqueue(ctx context.Context, job *model.Job) error

	// ClaimDue は実行時刻を過ぎた pending ジョブを最大limit件取得し、running に変更する。
	// FOR UPDATE SKIP LOCKED により複数ワーカーでも同じジョブを取得しない。
	ClaimDue(ctx context.Context, limit int) ([]*model.Job, error)

	// MarkDone はジョブを完了にする。
	MarkDone(ctx context.Context, id string, attempts int) error

	// Reschedule はジョブを pending に戻し、次回実行時刻を設定する。
	Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastError string) error

	// MarkFailed はジョブを失敗にする。再試行は行わない。
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error

	// RequeueStale は指定時刻より前から running のままのジョブを pending に戻す。
	RequeueStale(ctx context.Context, before time.Time) (int64, error)

	// DeleteFinishedBefore は指定時刻より前に終了したジョブを削除する。
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// NoticeRepository はサイト全体通知の永続化インターフェース。
type NoticeRepository interface {
	// Add は通知を登録する。同じキーが既にある場合はメッセージのみ更新し、閉じた状態は維持する。
	Add(ctx context.Context, notice *model.Notice) error

	// ListActive は閉じられていない通知を返す。
	ListActive(ctx context.Context) ([]*model.Notice, error)

	// Dismiss は通知を閉じる。対象が無い場合は false を返す。
	Dismiss(ctx context.Context, key string) (bool, error)
}

// LegacyFeedRow は旧アドオンのフィードテーブルの1行。
type LegacyFeedRow struct {
	ID       string
	FormID   string
	IsActive bool
	Meta     []byte
}

// LegacyRepository は旧アドオンが残したデータへのアクセスインターフェース。
type LegacyRepository interface {
	// GetOption はオプション値をdstにデコードする。存在しない場合は false を返す。
	GetOption(ctx context.Context, name string, dst any) (bool, error)

	// SetOption はオプション値を保存する。
	SetOption(ctx context.Context, name string, value any) error

	// TableExists はテーブルが存在するかを返す。
	TableExists(ctx context.Context, table string) (bool, error)

	// ListFeeds は旧フィードテーブルから指定アドオンのフィードを返す。
	ListFeeds(ctx context.Context, table, addonSlug string) ([]LegacyFeedRow, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
