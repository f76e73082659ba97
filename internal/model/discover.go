package model

import "time"

// DiscoverItem は発見ページに表示する読書ニュース記事を表す。
type DiscoverItem struct {
	ID          string
	SourceURL   string
	SourceTitle string
	Title       string
	Link        string
	Summary     string // サニタイズ済みHTML
	ImageURL    string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// ParsedEntry はフィードパーサーから取得した未保存の記事データを表す。
type ParsedEntry struct {
	Title       string
	Link        string
	Summary     string // 未サニタイズ
	ImageURL    string
	PublishedAt *time.Time
}
