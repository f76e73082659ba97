// Package group は読書グループのドメインロジックを提供する。
// 参照はデータストアから直接、変更は外部APIを通じて行う。
package group

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitoshi/codex/internal/apiclient"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/repository"
	"github.com/hitoshi/codex/internal/storage"
)

// API はグループ操作の外部APIクライアント。
type API interface {
	CreateGroup(ctx context.Context, token string, req apiclient.CreateGroupRequest) (*model.Group, error)
	UpdateGroup(ctx context.Context, token, groupID string, req apiclient.UpdateGroupRequest) error
	DeleteGroup(ctx context.Context, token, groupID string) error
	RegenerateCode(ctx context.Context, token, groupID string) (string, error)
	LeaveGroup(ctx context.Context, token, groupID string) error
	JoinGroup(ctx context.Context, token, invitationCode string) error
	Invite(ctx context.Context, token string, req apiclient.InviteRequest) error
	AcceptInvitation(ctx context.Context, token, invitationToken string) error
}

// ObjectStore はグループアバター画像の保存先。
type ObjectStore interface {
	Upload(ctx context.Context, token, bucket, path, contentType string, body io.Reader) error
	PublicURL(bucket, path string) string
}

// ActivityRecorder はユーザー操作の履歴を記録する。
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind model.ActivityKind, message string)
}

// Service は読書グループのサービス層。
type Service struct {
	groups   repository.GroupRepository
	api      API
	store    ObjectStore
	activity ActivityRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(groups repository.GroupRepository, api API, store ObjectStore, activity ActivityRecorder) *Service {
	return &Service{
		groups:   groups,
		api:      api,
		store:    store,
		activity: activity,
		now:      time.Now,
	}
}

// ListMine はユーザーが所属するグループを返す。
func (s *Service) ListMine(ctx context.Context, sess *model.Session) ([]model.Membership, error) {
	memberships, err := s.groups.ListMemberships(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("グループ一覧の取得に失敗しました: %w", err)
	}
	return memberships, nil
}

// AdminGroups はユーザーが管理者のグループを返す。招待フォームの選択肢に使う。
func (s *Service) AdminGroups(ctx context.Context, sess *model.Session) ([]model.Group, error) {
	groups, err := s.groups.ListAdminGroups(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("管理グループの取得に失敗しました: %w", err)
	}
	return groups, nil
}

// Get はユーザーが所属するグループを返す。所属していない場合はGroupNotFoundエラーを返す。
func (s *Service) Get(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error) {
	m, err := s.groups.FindMembership(ctx, sess.UserID, groupID)
	if err != nil {
		return nil, fmt.Errorf("グループの取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewGroupNotFoundError(groupID)
	}
	return m, nil
}

// GetAdministered はユーザーが管理者のグループを返す。編集ページで使う。
func (s *Service) GetAdministered(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error) {
	m, err := s.Get(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin() {
		return nil, model.NewNotGroupAdminError()
	}
	return m, nil
}

// Create はグループを作成する。
func (s *Service) Create(ctx context.Context, sess *model.Session, in model.GroupInput) (*model.Group, error) {
	g, err := s.api.CreateGroup(ctx, sess.AccessToken, apiclient.CreateGroupRequest{
		Name:        in.Name,
		Description: in.Description,
		AvatarURL:   in.AvatarURL,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, model.ActivityGroupCreated, fmt.Sprintf("グループ「%s」を作成しました", in.Name))
	return g, nil
}

// Update はグループ情報を更新する。
func (s *Service) Update(ctx context.Context, sess *model.Session, groupID string, in model.GroupInput) error {
	if err := s.api.UpdateGroup(ctx, sess.AccessToken, groupID, apiclient.NewUpdateGroupRequest(in)); err != nil {
		return err
	}
	s.record(ctx, sess, model.ActivityGroupUpdated, fmt.Sprintf("グループ「%s」を更新しました", in.Name))
	return nil
}

// Delete はグループを削除する。
func (s *Service) Delete(ctx context.Context, sess *model.Session, groupID string) error {
	if err := s.api.DeleteGroup(ctx, sess.AccessToken, groupID); err != nil {
		return err
	}
	s.record(ctx, sess, model.ActivityGroupDeleted, "グループを削除しました")
	return nil
}

// RegenerateCode は招待コードを再生成する。
func (s *Service) RegenerateCode(ctx context.Context, sess *model.Session, groupID string) (string, error) {
	return s.api.RegenerateCode(ctx, sess.AccessToken, groupID)
}

// Leave はグループから脱退する。
func (s *Service) Leave(ctx context.Context, sess *model.Session, groupID string) error {
	if err := s.api.LeaveGroup(ctx, sess.AccessToken, groupID); err != nil {
		return err
	}
	s.record(ctx, sess, model.ActivityGroupLeft, "グループから脱退しました")
	return nil
}

// Join は招待コードでグループに参加する。
func (s *Service) Join(ctx context.Context, sess *model.Session, code string) error {
	if err := s.api.JoinGroup(ctx, sess.AccessToken, code); err != nil {
		return err
	}
	s.record(ctx, sess, model.ActivityGroupJoined, "招待コードでグループに参加しました")
	return nil
}

// Invite はグループへの招待メールを送信する。
// 招待できるのはユーザーが管理者のグループのみ。
func (s *Service) Invite(ctx context.Context, sess *model.Session, groupID string, emails []string) error {
	// 1. 管理者のグループか確認し、グループ名を得る
	admin, err := s.groups.ListAdminGroups(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("管理グループの取得に失敗しました: %w", err)
	}
	var target *model.Group
	for i := range admin {
		if admin[i].ID == groupID {
			target = &admin[i]
			break
		}
	}
	if target == nil {
		return model.NewNotGroupAdminError()
	}

	// 2. 招待を送信
	invited := make([]openapi_types.Email, len(emails))
	for i, e := range emails {
		invited[i] = openapi_types.Email(e)
	}
	err = s.api.Invite(ctx, sess.AccessToken, apiclient.InviteRequest{
		GroupID:       target.ID,
		GroupName:     target.Name,
		InvitedEmails: invited,
	})
	if err != nil {
		return err
	}
	s.record(ctx, sess, model.ActivityInviteSent,
		fmt.Sprintf("グループ「%s」に%d人を招待しました", target.Name, len(emails)))
	return nil
}

// AcceptInvitation は招待を受諾し、参加したグループを返す。
// グループ名を取得できない場合もグループIDのみで成功とする。
func (s *Service) AcceptInvitation(ctx context.Context, sess *model.Session, token, groupID string) (*model.Group, error) {
	if token == "" || groupID == "" {
		return nil, model.NewInvalidInvitationError()
	}
	if err := s.api.AcceptInvitation(ctx, sess.AccessToken, token); err != nil {
		return nil, err
	}

	joined := &model.Group{ID: groupID}
	if m, err := s.groups.FindMembership(ctx, sess.UserID, groupID); err == nil && m != nil {
		joined = &m.Group
	}
	s.record(ctx, sess, model.ActivityGroupJoined, "招待を受けてグループに参加しました")
	return joined, nil
}

// UploadAvatar はグループアバター画像をアップロードし、公開URLを返す。
func (s *Service) UploadAvatar(ctx context.Context, sess *model.Session, contentType string, data []byte) (string, error) {
	path := storage.GroupAvatarPath(extensionFor(contentType), s.now())
	if err := s.store.Upload(ctx, sess.AccessToken, storage.BucketGroupAvatars, path, contentType, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return s.store.PublicURL(storage.BucketGroupAvatars, path), nil
}

func (s *Service) record(ctx context.Context, sess *model.Session, kind model.ActivityKind, msg string) {
	if s.activity != nil {
		s.activity.Record(ctx, sess.UserID, kind, msg)
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
