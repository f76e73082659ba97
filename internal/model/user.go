package model

import "time"

// User はIDプロバイダーが管理する認証済みユーザーを表す。
type User struct {
	ID       string
	Email    string
	Username string // サインアップ時のユーザーメタデータ
}

// TokenPair はIDプロバイダーが発行したアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // アクセストークンの有効期限
	User         User
}

// Session はユーザーのログインセッションを表す。
// Cookieには不透明なIDのみを保持し、トークンはサーバー側に保存する。
type Session struct {
	ID              string
	UserID          string
	Email           string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// AccessExpiringWithin はアクセストークンがd以内に失効するかを判定する。
func (s *Session) AccessExpiringWithin(now time.Time, d time.Duration) bool {
	return !s.AccessExpiresAt.After(now.Add(d))
}
