package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresJobRepo はPostgreSQLを使用したフィード処理ジョブリポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

var _ JobRepository = (*PostgresJobRepo)(nil)

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

// Enqueue はジョブを登録する。
func (r *PostgresJobRepo) Enqueue(ctx context.Context, job *model.Job) error {
	status := job.Status
	if status == "" {
		status = model.JobStatusPending
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_jobs (id, feed_id, entry_id, status, attempts, run_after, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, job.FeedID, job.EntryID, string(status), job.Attempts,
		job.RunAfter, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジョブの登録に失敗しました: %w", err)
	}
	return nil
}

// ClaimDue は実行時刻を過ぎた pending ジョブを最大limit件取得し、running に変更する。
// 同じエントリのジョブは登録順に返す。
func (r *PostgresJobRepo) ClaimDue(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE feed_jobs SET status = 'running', updated_at = now()
		 WHERE id IN (
		    SELECT id FROM feed_jobs
		    WHERE status = 'pending' AND run_after <= now()
		    ORDER BY run_after ASC, created_at ASC
		    LIMIT $1
		    FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, feed_id, entry_id, status, attempts, last_error, run_after, created_at, updated_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行対象ジョブの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		job := &model.Job{}
		var status string
		var lastError sql.NullString
		if err := rows.Scan(
			&job.ID, &job.FeedID, &job.EntryID, &status, &job.Attempts,
			&lastError, &job.RunAfter, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ジョブの読み取りに失敗しました: %w", err)
		}
		job.Status = model.JobStatus(status)
		job.LastError = nullStringValue(lastError)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジョブ一覧の走査に失敗しました: %w", err)
	}

	// RETURNING の順序は保証されないため、登録順に並べ直す
	sortJobs(jobs)
	return jobs, nil
}

// MarkDone はジョブを完了にする。
func (r *PostgresJobRepo) MarkDone(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_jobs SET status = 'done', attempts = $2, last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id, attempts,
	)
	if err != nil {
		return fmt.Errorf("ジョブの完了更新に失敗しました: %w", err)
	}
	return nil
}

// Reschedule はジョブを pending に戻し、次回実行時刻を設定する。
func (r *PostgresJobRepo) Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_jobs SET status = 'pending', attempts = $2, run_after = $3, last_error = $4, updated_at = now()
		 WHERE id = $1`,
		id, attempts, runAfter, nullString(lastError),
	)
	if err != nil {
		return fmt.Errorf("ジョブの再スケジュールに失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はジョブを失敗にする。
func (r *PostgresJobRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_jobs SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, attempts, nullString(lastError),
	)
	if err != nil {
		return fmt.Errorf("ジョブの失敗更新に失敗しました: %w", err)
	}
	return nil
}

// RequeueStale は指定時刻より前から running のままのジョブを pending に戻す。
func (r *PostgresJobRepo) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE feed_jobs SET status = 'pending', run_after = now(), updated_at = now()
		 WHERE status = 'running' AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("停滞ジョブの再登録に失敗しました: %w", err)
	}
	return res.RowsAffected()
}

// DeleteFinishedBefore は指定時刻より前に終了したジョブを削除する。
func (r *PostgresJobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM feed_jobs WHERE status IN ('done', 'failed') AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("終了済みジョブの削除に失敗しました: %w", err)
	}
	return res.RowsAffected()
}

// sortJobs はジョブを登録時刻、ID の順で並べる。
func sortJobs(jobs []*model.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
