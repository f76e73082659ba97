package model

import "time"

// ReadingPace は読書ペースの分類を表す。
type ReadingPace string

const (
	// PaceOccasional はたまに読む読者。
	PaceOccasional ReadingPace = "occasional"
	// PaceRegular は定期的に読む読者。
	PaceRegular ReadingPace = "regular"
	// PacePassionate は熱心に読む読者。
	PacePassionate ReadingPace = "passionate"
)

// Label は読書ペースの表示名を返す。未知の値は空文字列を返す。
func (p ReadingPace) Label() string {
	switch p {
	case PaceOccasional:
		return "ときどき"
	case PaceRegular:
		return "定期的"
	case PacePassionate:
		return "熱心"
	default:
		return ""
	}
}

// Valid は既知の読書ペースかを判定する。
func (p ReadingPace) Valid() bool {
	return p.Label() != ""
}

// Profile はprofilesテーブルのユーザープロフィールを表す。
type Profile struct {
	ID              string
	Username        string
	Bio             string
	AvatarURL       string
	FavoriteGenres  []string
	FavoriteAuthors []string
	PreferredPace   ReadingPace
	UpdatedAt       time.Time
}

// ProfileUpdate はプロフィール更新内容を表す。
type ProfileUpdate struct {
	Username        string
	Bio             string
	FavoriteGenres  []string
	FavoriteAuthors []string
	PreferredPace   ReadingPace
}

// Badge は獲得したバッジを表す。
type Badge struct {
	ID          string
	Name        string
	Description string
	IconURL     string
	UnlockedAt  time.Time
}
