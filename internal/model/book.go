package model

import "time"

// ReadingStatus は本棚の読書状態を表す。
type ReadingStatus string

const (
	// StatusAll はフィルタなしを表す。
	StatusAll ReadingStatus = "all"
	// StatusToRead は未読（読みたい）。
	StatusToRead ReadingStatus = "to_read"
	// StatusReading は読書中。
	StatusReading ReadingStatus = "reading"
	// StatusFinished は読了。
	StatusFinished ReadingStatus = "finished"
)

// ParseReadingStatus は文字列を読書状態に変換する。空文字列はStatusAllとして扱う。
func ParseReadingStatus(s string) (ReadingStatus, bool) {
	switch ReadingStatus(s) {
	case "", StatusAll:
		return StatusAll, true
	case StatusToRead, StatusReading, StatusFinished:
		return ReadingStatus(s), true
	default:
		return "", false
	}
}

// StatusFromID はstatus_id（1=to_read, 2=reading, 3=finished）を読書状態に変換する。
func StatusFromID(id int) ReadingStatus {
	switch id {
	case 1:
		return StatusToRead
	case 2:
		return StatusReading
	case 3:
		return StatusFinished
	default:
		return ""
	}
}

// Label は読書状態の表示名を返す。
func (s ReadingStatus) Label() string {
	switch s {
	case StatusAll:
		return "すべての本"
	case StatusToRead:
		return "読みたい"
	case StatusReading:
		return "読書中"
	case StatusFinished:
		return "読了"
	default:
		return ""
	}
}

// Book は本の書誌情報を表す。
type Book struct {
	ID          string
	Title       string
	Author      string
	Description string
	CoverURL    string
	PageCount   int
	Genre       string
}

// LibraryEntry はユーザーの本棚に登録された本を表す。
type LibraryEntry struct {
	ID         string
	StatusID   int
	Rating     int // 0は未評価
	StartedAt  *time.Time
	FinishedAt *time.Time
	Book       Book
}

// Status は本棚エントリの読書状態を返す。
func (e LibraryEntry) Status() ReadingStatus {
	return StatusFromID(e.StatusID)
}

// SearchResult は書籍検索APIの検索結果1件を表す。
type SearchResult struct {
	ID            string
	Title         string
	Authors       []string
	Thumbnail     string
	Description   string
	PageCount     int
	Categories    []string
	PublishedDate string
	Publisher     string
	ISBN13        string
	ISBN10        string
}

// NewBook は本棚へ追加する本を表す。
type NewBook struct {
	GoogleBooksID string
	ISBN          string
	Title         string
	Author        string
	Description   string
	CoverURL      string
	PageCount     int
	Genre         string
	PublishedDate string
	Publisher     string
}
