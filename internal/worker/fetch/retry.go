package fetch

import (
	"fmt"
	"time"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は取得を止めるステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフするステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗で取得を止める連続回数。
	parseFailureThreshold = 10
)

// Source は発見フィード1件の取得状態。
// ワーカープロセスのメモリ上にのみ保持し、再起動でリセットされる。
type Source struct {
	URL          string // DISCOVER_FEEDSに設定されたURL
	FeedURL      string // 解決済みのフィードURL
	Title        string
	ETag         string
	LastModified string

	ConsecutiveErrors int
	Stopped           bool
	ErrorMessage      string
	NextFetchAt       time.Time
	LastFetchedAt     time.Time
}

// NewSources は設定されたURLから取得状態を生成する。重複と空文字は除く。
func NewSources(urls []string) []*Source {
	seen := make(map[string]bool, len(urls))
	sources := make([]*Source, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		sources = append(sources, &Source{URL: u})
	}
	return sources
}

// Due はnowの時点で取得対象かを返す。
func (s *Source) Due(now time.Time) bool {
	return !s.Stopped && !s.NextFetchAt.After(now)
}

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop はソースの取得を止める。
func ApplyStop(src *Source, reason string) {
	src.Stopped = true
	src.ErrorMessage = reason
}

// ApplyBackoff は連続エラー回数を増やし、指数バックオフで次回取得時刻を設定する。
func ApplyBackoff(src *Source, reason string, now time.Time) {
	src.ConsecutiveErrors++
	src.ErrorMessage = reason
	src.NextFetchAt = now.Add(CalculateBackoff(src.ConsecutiveErrors - 1))
}

// ApplySuccess はエラー状態を解除し、interval後を次回取得時刻にする。
func ApplySuccess(src *Source, interval time.Duration, now time.Time) {
	src.ConsecutiveErrors = 0
	src.ErrorMessage = ""
	src.LastFetchedAt = now
	src.NextFetchAt = now.Add(interval)
}

// ApplyParseFailure は連続エラー回数を増やし、閾値に達したら取得を止める。
// 閾値未満の場合はinterval後に再取得する。
func ApplyParseFailure(src *Source, reason string, interval time.Duration, now time.Time) {
	src.ConsecutiveErrors++
	src.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", src.ConsecutiveErrors, reason)
	src.NextFetchAt = now.Add(interval)

	if src.ConsecutiveErrors >= parseFailureThreshold {
		ApplyStop(src, fmt.Sprintf("パース失敗が%d回連続したため取得を停止しました: %s", src.ConsecutiveErrors, reason))
	}
}
