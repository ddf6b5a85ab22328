// Package cleanup は終了済みジョブの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した done / failed のジョブを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は終了済みジョブの保持日数の既定値。
const DefaultRetentionDays = 30

// JobPurger は終了済みジョブの削除を抽象化するインターフェース。
// repository.JobRepository が満たす。
type JobPurger interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したジョブの自動削除ジョブ。
// 削除対象がない場合もエラーにならない。
type CleanupJob struct {
	jobs          JobPurger
	logger        *slog.Logger
	RetentionDays int // ジョブの保持日数（デフォルト: 30）

	nowFn func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合は30日を使う。
func NewCleanupJob(jobs JobPurger, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		jobs:          jobs,
		logger:        logger,
		RetentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Run は最終更新がRetentionDays日前より古い終了済みジョブを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.nowFn()
	before := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.jobs.DeleteFinishedBefore(ctx, before)
	if err != nil {
		j.logger.Error("ジョブクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ジョブクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("ジョブクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
