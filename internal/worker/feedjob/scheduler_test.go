package feedjob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/model"
)

// --- モック定義 ---

type transition struct {
	kind      string
	id        string
	attempts  int
	runAfter  time.Time
	lastError string
}

// mockJobRepo はJobRepositoryのテスト用モック。
type mockJobRepo struct {
	mu          sync.Mutex
	claimFunc   func(ctx context.Context, limit int) ([]*model.Job, error)
	staleBefore []time.Time
	transitions []transition
}

func (m *mockJobRepo) Enqueue(ctx context.Context, job *model.Job) error { return nil }

func (m *mockJobRepo) ClaimDue(ctx context.Context, limit int) ([]*model.Job, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockJobRepo) record(t transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *mockJobRepo) MarkDone(ctx context.Context, id string, attempts int) error {
	return m.record(transition{kind: "done", id: id, attempts: attempts})
}

func (m *mockJobRepo) Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastError string) error {
	return m.record(transition{kind: "retry", id: id, attempts: attempts, runAfter: runAfter, lastError: lastError})
}

func (m *mockJobRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return m.record(transition{kind: "failed", id: id, attempts: attempts, lastError: lastError})
}

func (m *mockJobRepo) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	m.staleBefore = append(m.staleBefore, before)
	return 0, nil
}

func (m *mockJobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *mockJobRepo) byID(id string) (transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.transitions {
		if tr.id == id {
			return tr, true
		}
	}
	return transition{}, false
}

type mockProcessor struct {
	processFunc func(ctx context.Context, job *model.Job) error
}

func (m *mockProcessor) ProcessJob(ctx context.Context, job *model.Job) error {
	if m.processFunc != nil {
		return m.processFunc(ctx, job)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(repo *mockJobRepo, proc *mockProcessor, maxConcurrency int) *Scheduler {
	s := NewScheduler(repo, proc, metrics.NopCollector{}, testLogger(), maxConcurrency, 3)
	s.nowFn = func() time.Time { return fixedNow }
	return s
}

func jobsFunc(jobs ...*model.Job) func(ctx context.Context, limit int) ([]*model.Job, error) {
	return func(ctx context.Context, limit int) ([]*model.Job, error) {
		return jobs, nil
	}
}

// --- テスト ---

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&mockJobRepo{}, &mockProcessor{}, nil, testLogger(), 0, 0)
	if s.maxConcurrency != defaultMaxConcurrency {
		t.Errorf("maxConcurrency = %d, want %d", s.maxConcurrency, defaultMaxConcurrency)
	}
	if s.maxAttempts != DefaultMaxAttempts {
		t.Errorf("maxAttempts = %d, want %d", s.maxAttempts, DefaultMaxAttempts)
	}
}

func TestRunOnce_NoJobs(t *testing.T) {
	repo := &mockJobRepo{}
	called := false
	proc := &mockProcessor{processFunc: func(ctx context.Context, job *model.Job) error {
		called = true
		return nil
	}}

	if err := newTestScheduler(repo, proc, 2).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if called {
		t.Error("ジョブが無いのに処理が呼ばれた")
	}
	if len(repo.staleBefore) != 1 || !repo.staleBefore[0].Equal(fixedNow.Add(-staleAfter)) {
		t.Errorf("RequeueStale の引数 = %v", repo.staleBefore)
	}
}

func TestRunOnce_ClaimError(t *testing.T) {
	repo := &mockJobRepo{claimFunc: func(ctx context.Context, limit int) ([]*model.Job, error) {
		return nil, errors.New("db down")
	}}
	if err := newTestScheduler(repo, &mockProcessor{}, 2).RunOnce(context.Background()); err == nil {
		t.Error("取得失敗がエラーとして返されていない")
	}
}

func TestRunOnce_Transitions(t *testing.T) {
	repo := &mockJobRepo{claimFunc: jobsFunc(
		&model.Job{ID: "ok", EntryID: "e1"},
		&model.Job{ID: "retry", EntryID: "e2", Attempts: 1},
		&model.Job{ID: "fail", EntryID: "e3", Attempts: 2},
	)}
	proc := &mockProcessor{processFunc: func(ctx context.Context, job *model.Job) error {
		if job.ID == "ok" {
			return nil
		}
		return errors.New("note store down")
	}}

	if err := newTestScheduler(repo, proc, 2).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if tr, _ := repo.byID("ok"); tr.kind != "done" || tr.attempts != 1 {
		t.Errorf("ok = %+v", tr)
	}
	tr, _ := repo.byID("retry")
	if tr.kind != "retry" || tr.attempts != 2 || tr.lastError != "note store down" {
		t.Errorf("retry = %+v", tr)
	}
	if want := fixedNow.Add(2 * time.Minute); !tr.runAfter.Equal(want) {
		t.Errorf("runAfter = %v, want %v", tr.runAfter, want)
	}
	if tr, _ := repo.byID("fail"); tr.kind != "failed" || tr.attempts != 3 {
		t.Errorf("fail = %+v", tr)
	}
}

func TestRunOnce_SameEntrySequential(t *testing.T) {
	repo := &mockJobRepo{claimFunc: jobsFunc(
		&model.Job{ID: "a1", EntryID: "a"},
		&model.Job{ID: "b1", EntryID: "b"},
		&model.Job{ID: "a2", EntryID: "a"},
		&model.Job{ID: "a3", EntryID: "a"},
	)}

	var mu sync.Mutex
	var orderA []string
	var runningA int32
	overlapped := false
	proc := &mockProcessor{processFunc: func(ctx context.Context, job *model.Job) error {
		if job.EntryID != "a" {
			return nil
		}
		if atomic.AddInt32(&runningA, 1) > 1 {
			overlapped = true
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		orderA = append(orderA, job.ID)
		mu.Unlock()
		atomic.AddInt32(&runningA, -1)
		return nil
	}}

	if err := newTestScheduler(repo, proc, 4).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if overlapped {
		t.Error("同じエントリのジョブが並列に実行された")
	}
	if len(orderA) != 3 || orderA[0] != "a1" || orderA[1] != "a2" || orderA[2] != "a3" {
		t.Errorf("orderA = %v, want [a1 a2 a3]", orderA)
	}
}

func TestRunOnce_ConcurrencyLimit(t *testing.T) {
	var jobs []*model.Job
	for _, e := range []string{"e1", "e2", "e3", "e4", "e5", "e6"} {
		jobs = append(jobs, &model.Job{ID: e, EntryID: e})
	}
	repo := &mockJobRepo{claimFunc: jobsFunc(jobs...)}

	var current, peak int32
	proc := &mockProcessor{processFunc: func(ctx context.Context, job *model.Job) error {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil
	}}

	if err := newTestScheduler(repo, proc, 2).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if peak > 2 {
		t.Errorf("最大並列数 = %d, want <= 2", peak)
	}
	if len(repo.transitions) != 6 {
		t.Errorf("状態更新数 = %d, want 6", len(repo.transitions))
	}
}

func TestGroupByEntry(t *testing.T) {
	groups := groupByEntry([]*model.Job{
		{ID: "1", EntryID: "x"},
		{ID: "2", EntryID: "y"},
		{ID: "3", EntryID: "x"},
	})
	if len(groups) != 2 {
		t.Fatalf("len = %d, want 2", len(groups))
	}
	if groups[0][0].ID != "1" || groups[0][1].ID != "3" || groups[1][0].ID != "2" {
		t.Errorf("groups = %v", groups)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	var runs int32
	repo := &mockJobRepo{claimFunc: func(ctx context.Context, limit int) ([]*model.Job, error) {
		atomic.AddInt32(&runs, 1)
		return nil, nil
	}}
	s := newTestScheduler(repo, &mockProcessor{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("キャンセル後もスケジューラが停止しない")
	}
	if atomic.LoadInt32(&runs) < 2 {
		t.Errorf("実行回数 = %d, want >= 2", runs)
	}
}
