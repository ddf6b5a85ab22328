// Package feedjob はフィード処理ジョブのバックグラウンド実行を提供する。
// スケジューラと再試行/バックオフ戦略を含む。
package feedjob

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
)

const (
	// defaultMaxConcurrency は同時に処理するエントリ数の既定値。
	defaultMaxConcurrency = 4
	// staleAfter を超えて running のままのジョブはワーカー停止とみなして再登録する。
	staleAfter = 15 * time.Minute
)

// JobProcessor はジョブ1件を処理するインターフェース。
// errorを返した場合は再試行の対象になる。
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *model.Job) error
}

// Scheduler はジョブキューのポーリングと並列制御を行う。
// 同じエントリのジョブは登録順に逐次実行し、異なるエントリ間はsemaphoreで並列数を制御する。
type Scheduler struct {
	jobRepo        repository.JobRepository
	processor      JobProcessor
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	maxAttempts    int
	batchSize      int

	nowFn func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は4、maxAttemptsが0以下の場合は5を使用する。
func NewScheduler(
	jobRepo repository.JobRepository,
	processor JobProcessor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	maxAttempts int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobRepo:        jobRepo,
		processor:      processor,
		collector:      collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		maxAttempts:    maxAttempts,
		batchSize:      maxConcurrency * 25,
		nowFn:          time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ジョブスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("max_attempts", s.maxAttempts),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ジョブサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("ジョブサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行時刻を過ぎたジョブを取得し、エントリ単位で並列に実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.nowFn()

	requeued, err := s.jobRepo.RequeueStale(ctx, start.Add(-staleAfter))
	if err != nil {
		s.logger.Warn("停止したジョブの再登録に失敗しました", slog.String("error", err.Error()))
	} else if requeued > 0 {
		s.logger.Warn("停止したジョブを再登録しました", slog.Int64("count", requeued))
	}

	// 実行対象ジョブを取得（FOR UPDATE SKIP LOCKED）
	jobs, err := s.jobRepo.ClaimDue(ctx, s.batchSize)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		s.logger.Debug("実行対象のジョブはありません")
		return nil
	}

	groups := groupByEntry(jobs)
	s.logger.Info("ジョブサイクルを開始します",
		slog.Int("job_count", len(jobs)),
		slog.Int("entry_count", len(groups)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, group := range groups {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(g []*model.Job) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			for _, job := range g {
				s.run(ctx, job)
			}
		}(group)
	}

	wg.Wait()

	s.logger.Info("ジョブサイクルが完了しました",
		slog.Int("job_count", len(jobs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// run はジョブを1件実行し、結果に応じて状態を更新する。
func (s *Scheduler) run(ctx context.Context, job *model.Job) {
	attempts := job.Attempts + 1
	log := s.logger.With(
		slog.String("job_id", job.ID),
		slog.String("feed_id", job.FeedID),
		slog.String("entry_id", job.EntryID),
		slog.Int("attempts", attempts),
	)

	procErr := s.processor.ProcessJob(ctx, job)

	var err error
	switch Decide(procErr, attempts, s.maxAttempts) {
	case DecisionDone:
		err = s.jobRepo.MarkDone(ctx, job.ID, attempts)
		s.collector.RecordJobResult("done")
	case DecisionRetry:
		delay := CalculateBackoff(attempts - 1)
		log.Warn("ジョブの処理に失敗したため再試行します",
			slog.String("error", procErr.Error()),
			slog.Duration("delay", delay),
		)
		err = s.jobRepo.Reschedule(ctx, job.ID, attempts, s.nowFn().Add(delay), procErr.Error())
		s.collector.RecordJobResult("retry")
	case DecisionFail:
		log.Error("再試行上限に達したためジョブを失敗にします",
			slog.String("error", procErr.Error()),
		)
		err = s.jobRepo.MarkFailed(ctx, job.ID, attempts, procErr.Error())
		s.collector.RecordJobResult("failed")
	}

	if err != nil {
		log.Error("ジョブ状態の更新に失敗しました", slog.String("error", err.Error()))
	}
}

// groupByEntry はジョブをエントリごとにまとめる。グループの順序とグループ内の順序は取得順を保つ。
func groupByEntry(jobs []*model.Job) [][]*model.Job {
	index := make(map[string]int)
	var groups [][]*model.Job
	for _, job := range jobs {
		i, ok := index[job.EntryID]
		if !ok {
			i = len(groups)
			index[job.EntryID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	return groups
}
