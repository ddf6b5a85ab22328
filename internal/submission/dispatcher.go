// Package submission はフォーム送信を受け付け、フォームに紐づくフィードを実行する。
//
// 条件ロジックと支払い遅延の判定を行い、非同期モードではジョブキューへ登録、
// 同期モードではその場でフィード処理を呼び出す。
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kitbridge/internal/addon"
	"github.com/hitoshi/kitbridge/internal/condition"
	"github.com/hitoshi/kitbridge/internal/mapping"
	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
)

// Outcome はフィード1件に対する振り分け結果。
type Outcome string

const (
	// OutcomeQueued はジョブキューに登録した。
	OutcomeQueued Outcome = "queued"
	// OutcomeProcessed はその場で処理した（購読の成否はノートに記録される）。
	OutcomeProcessed Outcome = "processed"
	// OutcomeConditionNotMet は条件ロジックを満たさず実行しなかった。
	OutcomeConditionNotMet Outcome = "condition_not_met"
	// OutcomeDelayedPayment は支払い完了まで実行を遅延した。
	OutcomeDelayedPayment Outcome = "delayed_payment"
)

// FeedResult はフィードごとの振り分け結果。
type FeedResult struct {
	FeedID  string  `json:"feed_id"`
	Outcome Outcome `json:"outcome"`
}

// Result はSubmitとPaymentCompletedの結果。
type Result struct {
	EntryID string       `json:"entry_id"`
	Feeds   []FeedResult `json:"feeds"`
}

// Input はフォーム送信の内容。
type Input struct {
	Values        map[string]string
	SourceURL     string
	IP            string
	PaymentStatus model.PaymentStatus
}

// Dispatcher はフォーム送信をフィード処理に振り分ける。
type Dispatcher struct {
	forms     repository.FormRepository
	entries   repository.EntryRepository
	feeds     repository.FeedRepository
	jobs      repository.JobRepository
	processor addon.FeedProcessor
	collector metrics.MetricsCollector
	logger    *slog.Logger
	resolver  mapping.Resolver
	async     bool

	nowFn func() time.Time
	idFn  func() string
}

// NewDispatcher はDispatcherを生成する。asyncがtrueの場合はフィード処理をジョブキューに登録する。
func NewDispatcher(
	forms repository.FormRepository,
	entries repository.EntryRepository,
	feeds repository.FeedRepository,
	jobs repository.JobRepository,
	processor addon.FeedProcessor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	async bool,
) *Dispatcher {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		forms:     forms,
		entries:   entries,
		feeds:     feeds,
		jobs:      jobs,
		processor: processor,
		collector: collector,
		logger:    logger,
		resolver:  mapping.FieldResolver{},
		async:     async,
		nowFn:     time.Now,
		idFn:      uuid.NewString,
	}
}

// Submit はエントリを保存し、フォームの有効なフィードを feed_order 順に振り分ける。
func (d *Dispatcher) Submit(ctx context.Context, formID string, in Input) (*Result, error) {
	form, err := d.forms.FindByID(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("フォームの取得に失敗しました: %w", err)
	}
	if form == nil {
		return nil, model.NewFormNotFoundError(formID)
	}

	values := in.Values
	if values == nil {
		values = map[string]string{}
	}
	entry := &model.Entry{
		ID:            d.idFn(),
		FormID:        form.ID,
		Values:        values,
		SourceURL:     in.SourceURL,
		IP:            in.IP,
		PaymentStatus: in.PaymentStatus,
		CreatedAt:     d.nowFn(),
	}
	if err := d.entries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("エントリの保存に失敗しました: %w", err)
	}

	d.logger.Info("フォーム送信を受け付けました",
		slog.String("form_id", form.ID),
		slog.String("entry_id", entry.ID),
	)

	feeds, err := d.feeds.ListByFormID(ctx, form.ID, true)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	result := &Result{EntryID: entry.ID, Feeds: []FeedResult{}}
	for _, feed := range feeds {
		outcome, err := d.dispatch(ctx, feed, entry, form, false)
		if err != nil {
			return nil, err
		}
		result.Feeds = append(result.Feeds, FeedResult{FeedID: feed.ID, Outcome: outcome})
	}
	return result, nil
}

// PaymentCompleted はエントリを支払い完了にし、支払い待ちで遅延していたフィードを実行する。
// 既に支払い完了のエントリに対しては何もしない。
func (d *Dispatcher) PaymentCompleted(ctx context.Context, entryID string) (*Result, error) {
	entry, err := d.entries.FindByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, model.NewEntryNotFoundError(entryID)
	}

	result := &Result{EntryID: entry.ID, Feeds: []FeedResult{}}
	if entry.PaymentStatus == model.PaymentStatusPaid {
		d.logger.Debug("支払い完了済みのエントリです", slog.String("entry_id", entry.ID))
		return result, nil
	}

	if _, err := d.entries.UpdatePaymentStatus(ctx, entry.ID, model.PaymentStatusPaid); err != nil {
		return nil, fmt.Errorf("支払い状態の更新に失敗しました: %w", err)
	}
	entry.PaymentStatus = model.PaymentStatusPaid

	form, err := d.forms.FindByID(ctx, entry.FormID)
	if err != nil {
		return nil, fmt.Errorf("フォームの取得に失敗しました: %w", err)
	}
	if form == nil {
		return nil, model.NewFormNotFoundError(entry.FormID)
	}

	feeds, err := d.feeds.ListByFormID(ctx, form.ID, true)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	for _, feed := range feeds {
		if !feed.Meta.DelayPayment {
			continue
		}
		outcome, err := d.dispatch(ctx, feed, entry, form, true)
		if err != nil {
			return nil, err
		}
		result.Feeds = append(result.Feeds, FeedResult{FeedID: feed.ID, Outcome: outcome})
	}

	d.logger.Info("支払い完了により遅延フィードを実行しました",
		slog.String("entry_id", entry.ID),
		slog.Int("feed_count", len(result.Feeds)),
	)
	return result, nil
}

// dispatch はフィード1件を条件判定のうえ、キュー登録または即時処理する。
// paid が true の場合は支払い遅延の判定を行わない。
func (d *Dispatcher) dispatch(ctx context.Context, feed *model.Feed, entry *model.Entry, form *model.Form, paid bool) (Outcome, error) {
	log := d.logger.With(slog.String("feed_id", feed.ID), slog.String("entry_id", entry.ID))

	if feed.Meta.ConditionEnabled && !condition.Evaluate(feed.Meta.Condition, form, entry, d.resolver) {
		log.Debug("条件ロジックを満たさないためフィードを実行しません")
		d.collector.RecordFeedSkipped(string(OutcomeConditionNotMet))
		return OutcomeConditionNotMet, nil
	}

	if !paid && feed.Meta.DelayPayment && entry.PaymentStatus == model.PaymentStatusPending {
		log.Debug("支払い完了までフィードの実行を遅延します")
		d.collector.RecordFeedSkipped(string(OutcomeDelayedPayment))
		return OutcomeDelayedPayment, nil
	}

	if d.async {
		return d.enqueue(ctx, log, feed, entry)
	}

	if _, err := d.processor.ProcessFeed(ctx, feed, entry, form); err != nil {
		if errors.Is(err, addon.ErrAPIUnavailable) {
			// 同期モードでもワーカーの再試行に任せる
			log.Warn("ConvertKit APIに接続できないためフィード処理をジョブキューに回します")
			return d.enqueue(ctx, log, feed, entry)
		}
		return "", fmt.Errorf("フィードの処理に失敗しました: %w", err)
	}
	return OutcomeProcessed, nil
}

// enqueue はフィード処理をジョブとして登録する。
func (d *Dispatcher) enqueue(ctx context.Context, log *slog.Logger, feed *model.Feed, entry *model.Entry) (Outcome, error) {
	now := d.nowFn()
	job := &model.Job{
		ID:        d.idFn(),
		FeedID:    feed.ID,
		EntryID:   entry.ID,
		Status:    model.JobStatusPending,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("ジョブの登録に失敗しました: %w", err)
	}
	log.Debug("フィード処理をジョブキューに登録しました", slog.String("job_id", job.ID))
	return OutcomeQueued, nil
}

// ProcessJob はジョブに対応するフィード・エントリ・フォームを読み込み、フィードを処理する。
// いずれかが削除済み、またはフィードが無効化されている場合は何もしない。
// 戻り値のerrorはノートを保存できない、APIに一時的に接続できないなどの再試行すべき失敗に限る。
func (d *Dispatcher) ProcessJob(ctx context.Context, job *model.Job) error {
	log := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("feed_id", job.FeedID),
		slog.String("entry_id", job.EntryID),
	)

	feed, err := d.feeds.FindByID(ctx, job.FeedID)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil || !feed.IsActive {
		log.Info("フィードが削除または無効化されているためジョブを終了します")
		d.collector.RecordFeedSkipped("feed_inactive")
		return nil
	}

	entry, err := d.entries.FindByID(ctx, job.EntryID)
	if err != nil {
		return fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	if entry == nil {
		log.Info("エントリが存在しないためジョブを終了します")
		d.collector.RecordFeedSkipped("entry_missing")
		return nil
	}

	form, err := d.forms.FindByID(ctx, entry.FormID)
	if err != nil {
		return fmt.Errorf("フォームの取得に失敗しました: %w", err)
	}
	if form == nil {
		log.Info("フォームが存在しないためジョブを終了します")
		d.collector.RecordFeedSkipped("form_missing")
		return nil
	}

	if _, err := d.processor.ProcessFeed(ctx, feed, entry, form); err != nil {
		return err
	}
	return nil
}
