package model

import "time"

// JobStatus はバックグラウンドジョブの状態。
type JobStatus string

const (
	// JobStatusPending は実行待ち。
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning は実行中。
	JobStatusRunning JobStatus = "running"
	// JobStatusDone は完了（購読失敗がノートに記録された場合も含む）。
	JobStatusDone JobStatus = "done"
	// JobStatusFailed は再試行上限に達した失敗。
	JobStatusFailed JobStatus = "failed"
)

// Job は1エントリ×1フィードの非同期処理単位。
type Job struct {
	ID        string
	FeedID    string
	EntryID   string
	Status    JobStatus
	Attempts  int
	LastError string
	RunAfter  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
