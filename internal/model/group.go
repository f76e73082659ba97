package model

import "time"

// GroupRole はグループ内でのメンバーの役割を表す。
type GroupRole string

const (
	// RoleAdmin はグループ管理者。
	RoleAdmin GroupRole = "admin"
	// RoleMember は一般メンバー。
	RoleMember GroupRole = "member"
)

// Group は読書グループを表す。
type Group struct {
	ID             string
	Name           string
	Description    string
	AvatarURL      string
	InvitationCode string
	CreatedAt      time.Time
}

// Membership はユーザーのグループ所属を、グループ情報とメンバー数付きで表す。
type Membership struct {
	Group
	Role         GroupRole
	MembersCount int
}

// IsAdmin はユーザーがグループ管理者かを判定する。
func (m Membership) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// GroupInput はグループ作成・更新の入力を表す。
type GroupInput struct {
	Name        string
	Description string
	AvatarURL   string
}
