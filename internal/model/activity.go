package model

import "time"

// ActivityKind はユーザー操作の種類を表す。
type ActivityKind string

const (
	ActivityGroupCreated  ActivityKind = "group_created"
	ActivityGroupUpdated  ActivityKind = "group_updated"
	ActivityGroupDeleted  ActivityKind = "group_deleted"
	ActivityGroupJoined   ActivityKind = "group_joined"
	ActivityGroupLeft     ActivityKind = "group_left"
	ActivityInviteSent    ActivityKind = "invite_sent"
	ActivityBookAdded     ActivityKind = "book_added"
	ActivityProfileEdited ActivityKind = "profile_updated"
)

// Activity はダッシュボードに表示する最近のアクティビティを表す。
type Activity struct {
	ID        string
	UserID    string
	Kind      ActivityKind
	Message   string
	CreatedAt time.Time
}
