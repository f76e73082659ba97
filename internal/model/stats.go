package model

import "time"

// UserStats はget_user_statsが返す読書統計を表す。
type UserStats struct {
	TotalBooksRead int
	TotalPagesRead int
	AverageRating  float64
}

// NameCount はget_top_genres/get_top_authorsが返す名前と件数の組。
type NameCount struct {
	Name  string
	Count int
}

// ActivityPoint はget_reading_activityが返す日ごとの読了冊数。
type ActivityPoint struct {
	FinishedDate time.Time
	BooksCount   int
}

// ActivityPeriod は読書アクティビティの集計単位を表す。
type ActivityPeriod string

const (
	// PeriodWeek は週単位（日曜始まり）。
	PeriodWeek ActivityPeriod = "week"
	// PeriodMonth は月単位。
	PeriodMonth ActivityPeriod = "month"
	// PeriodYear は年単位。
	PeriodYear ActivityPeriod = "year"
)

// ParseActivityPeriod は文字列を集計単位に変換する。不明な値はPeriodMonthを返す。
func ParseActivityPeriod(s string) ActivityPeriod {
	switch ActivityPeriod(s) {
	case PeriodWeek, PeriodYear:
		return ActivityPeriod(s)
	default:
		return PeriodMonth
	}
}

// ActivityBucket は集計済みの読書アクティビティ1区間を表す。
type ActivityBucket struct {
	Key   string // 2024-03-10, 2024-03, 2024
	Books int
}
