package model

// ResultStatus はResultの状態を表す。
type ResultStatus int

const (
	// StatusNotFound は値が見つからなかったことを示す（エラーではない）。
	StatusNotFound ResultStatus = iota
	// StatusFound は値が得られたことを示す。
	StatusFound
	// StatusFailed は取得処理自体が失敗したことを示す。
	StatusFailed
)

// Result は「値あり」「該当なし」「失敗」の3状態を明示的に表す結果型。
// 該当なしと失敗を区別したまま呼び出し元に返すために使う。
type Result[T any] struct {
	value  T
	status ResultStatus
	err    error
}

// Found は値ありのResultを返す。
func Found[T any](v T) Result[T] {
	return Result[T]{value: v, status: StatusFound}
}

// NotFound は該当なしのResultを返す。
func NotFound[T any]() Result[T] {
	return Result[T]{status: StatusNotFound}
}

// Failed は失敗のResultを返す。errがnilの場合も失敗として扱う。
func Failed[T any](err error) Result[T] {
	return Result[T]{status: StatusFailed, err: err}
}

// Status は状態を返す。
func (r Result[T]) Status() ResultStatus { return r.status }

// IsFound は値ありかどうかを返す。
func (r Result[T]) IsFound() bool { return r.status == StatusFound }

// IsNotFound は該当なしかどうかを返す。
func (r Result[T]) IsNotFound() bool { return r.status == StatusNotFound }

// IsFailed は失敗かどうかを返す。
func (r Result[T]) IsFailed() bool { return r.status == StatusFailed }

// Value は値と、値が存在するかを返す。
func (r Result[T]) Value() (T, bool) {
	return r.value, r.status == StatusFound
}

// Err は失敗時のエラーを返す。失敗以外ではnil。
func (r Result[T]) Err() error {
	if r.status != StatusFailed {
		return nil
	}
	return r.err
}
