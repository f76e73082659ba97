// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/codex/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateTokens はリフレッシュ後のトークンと有効期限を保存する。
	UpdateTokens(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// UsernameExists はexcludeID以外のユーザーが同じユーザー名を使っているかを返す。
	// 大文字小文字は区別しない。
	UsernameExists(ctx context.Context, username, excludeID string) (bool, error)
	// Update はプロフィールを更新する。
	Update(ctx context.Context, id string, update model.ProfileUpdate) error
	// UpdateAvatarURL はアバター画像のURLを更新する。
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error
}

// GroupRepository は読書グループの参照用インターフェース。
// グループの変更は外部APIが担うため、ここでは読み取りのみを提供する。
type GroupRepository interface {
	// ListMemberships はユーザーが所属するグループを役割とメンバー数付きで返す。
	ListMemberships(ctx context.Context, userID string) ([]model.Membership, error)
	// FindMembership はユーザーの指定グループへの所属を返す。所属していない場合はnilを返す。
	FindMembership(ctx context.Context, userID, groupID string) (*model.Membership, error)
	// ListAdminGroups はユーザーが管理者のグループを返す。
	ListAdminGroups(ctx context.Context, userID string) ([]model.Group, error)
}

// BadgeRepository はバッジの参照用インターフェース。
type BadgeRepository interface {
	// ListByUser はユーザーが獲得したバッジを獲得日時付きで返す。
	ListByUser(ctx context.Context, userID string) ([]model.Badge, error)
}

// StatsRepository は読書統計のSQL関数呼び出しインターフェース。
type StatsRepository interface {
	UserStats(ctx context.Context, userID string) (*model.UserStats, error)
	TopGenres(ctx context.Context, userID string) ([]model.NameCount, error)
	TopAuthors(ctx context.Context, userID string) ([]model.NameCount, error)
	ReadingPace(ctx context.Context, userID string) (model.ReadingPace, error)
	ReadingActivity(ctx context.Context, userID string) ([]model.ActivityPoint, error)
}

// ActivityRepository はユーザー操作履歴の永続化インターフェース。
type ActivityRepository interface {
	// Create は操作履歴を1件記録する。
	Create(ctx context.Context, activity *model.Activity) error
	// ListRecent はユーザーの最近の操作履歴を新しい順にlimit件返す。
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Activity, error)
}

// DiscoverRepository は発見ページの記事の永続化インターフェース。
type DiscoverRepository interface {
	// UpsertItem はlinkをキーに記事を作成または更新する。新規作成の場合はtrueを返す。
	UpsertItem(ctx context.Context, item *model.DiscoverItem) (bool, error)
	// ListLatest は公開日時の新しい順にlimit件返す。
	ListLatest(ctx context.Context, limit int) ([]model.DiscoverItem, error)
}

// CleanupRepository は定期クリーンアップ用の削除操作を提供する。
type CleanupRepository interface {
	// DeleteExpiredSessions は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	// DeleteDiscoverItemsBefore はbefore以前に取得した記事を削除し、削除件数を返す。
	DeleteDiscoverItemsBefore(ctx context.Context, before time.Time) (int64, error)
	// DeleteActivitiesBefore はbefore以前の操作履歴を削除し、削除件数を返す。
	DeleteActivitiesBefore(ctx context.Context, before time.Time) (int64, error)
}
