package feedjob

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
	// DefaultMaxAttempts は再試行を含む最大実行回数の既定値。
	DefaultMaxAttempts = 5
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Decision はジョブ実行後の遷移先。
type Decision int

const (
	// DecisionDone はジョブを完了にする。
	DecisionDone Decision = iota
	// DecisionRetry はバックオフ後に再実行する。
	DecisionRetry
	// DecisionFail は再試行上限に達したため失敗にする。
	DecisionFail
)

// Decide は実行結果と実行回数から次の遷移を決める。
// attempts は今回の実行を含む回数。
func Decide(err error, attempts, maxAttempts int) Decision {
	switch {
	case err == nil:
		return DecisionDone
	case attempts >= maxAttempts:
		return DecisionFail
	default:
		return DecisionRetry
	}
}
