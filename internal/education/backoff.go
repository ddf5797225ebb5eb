package education

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	// initialBackoff は取得失敗後、再取得を試みるまでの初回待ち時間。
	initialBackoff = time.Minute
	// maxBackoff は待ち時間の上限。
	maxBackoff = time.Hour
)

// statusError は200/304以外の応答を表す。
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.code)
}

// newStatusError は応答からstatusErrorを作る。Retry-Afterは秒数指定のみ解釈する。
func newStatusError(resp *http.Response) *statusError {
	e := &statusError{code: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// calculateBackoff は連続失敗回数に基づいて指数バックオフの待ち時間を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func calculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryDelay は失敗の種類と回数から次の取得までの待ち時間を決める。
// サーバーがRetry-Afterを返した場合はそれを優先する。
func retryDelay(err error, consecutiveErrors int) time.Duration {
	var se *statusError
	if errors.As(err, &se) && se.retryAfter > 0 {
		if se.retryAfter > maxBackoff {
			return maxBackoff
		}
		return se.retryAfter
	}
	return calculateBackoff(consecutiveErrors)
}
