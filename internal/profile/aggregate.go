package profile

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/hitoshi/codex/internal/model"
)

// ワードクラウドの文字サイズ（rem）
const (
	minWordSize     = 0.875
	maxWordSize     = 2.25
	defaultWordSize = "1rem"
)

// WordItem はワードクラウドの1語。
type WordItem struct {
	Name  string
	Count int
	Size  string // CSSのfont-size
}

// WordCloud は件数の最大値に比例した文字サイズを付ける。
func WordCloud(items []model.NameCount) []WordItem {
	maxCount := 0
	for _, it := range items {
		maxCount = max(maxCount, it.Count)
	}

	out := make([]WordItem, len(items))
	for i, it := range items {
		out[i] = WordItem{Name: it.Name, Count: it.Count, Size: fontSize(it.Count, maxCount)}
	}
	return out
}

func fontSize(count, maxCount int) string {
	if maxCount == 0 {
		return defaultWordSize
	}
	size := minWordSize + (maxWordSize-minWordSize)*float64(count)/float64(maxCount)
	size = math.Round(size*1000) / 1000
	return strconv.FormatFloat(size, 'f', -1, 64) + "rem"
}

// Aggregate は日ごとの読了冊数を期間ごとに合計し、古い順に並べる。
// 週は日曜始まりで、キーは週の初日（2006-01-02）。月は 2006-01、年は 2006。
func Aggregate(points []model.ActivityPoint, period model.ActivityPeriod) []model.ActivityBucket {
	totals := make(map[string]int)
	for _, p := range points {
		totals[bucketKey(p.FinishedDate, period)] += p.BooksCount
	}

	buckets := make([]model.ActivityBucket, 0, len(totals))
	for k, n := range totals {
		buckets = append(buckets, model.ActivityBucket{Key: k, Books: n})
	}
	// 同じ形式のキーは辞書順が時系列順になる
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

func bucketKey(t time.Time, period model.ActivityPeriod) string {
	switch period {
	case model.PeriodWeek:
		start := t.AddDate(0, 0, -int(t.Weekday()))
		return start.Format("2006-01-02")
	case model.PeriodYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}
