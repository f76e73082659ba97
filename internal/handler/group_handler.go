package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/validation"
	"github.com/hitoshi/codex/internal/view"
	"github.com/hitoshi/codex/internal/viewstate"
)

// GroupServiceInterface はグループハンドラーが必要とするサービスインターフェース。
type GroupServiceInterface interface {
	ListMine(ctx context.Context, sess *model.Session) ([]model.Membership, error)
	AdminGroups(ctx context.Context, sess *model.Session) ([]model.Group, error)
	Get(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error)
	GetAdministered(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error)
	Create(ctx context.Context, sess *model.Session, in model.GroupInput) (*model.Group, error)
	Update(ctx context.Context, sess *model.Session, groupID string, in model.GroupInput) error
	Delete(ctx context.Context, sess *model.Session, groupID string) error
	RegenerateCode(ctx context.Context, sess *model.Session, groupID string) (string, error)
	Leave(ctx context.Context, sess *model.Session, groupID string) error
	Join(ctx context.Context, sess *model.Session, code string) error
	Invite(ctx context.Context, sess *model.Session, groupID string, emails []string) error
	AcceptInvitation(ctx context.Context, sess *model.Session, token, groupID string) (*model.Group, error)
	UploadAvatar(ctx context.Context, sess *model.Session, contentType string, data []byte) (string, error)
}

// GroupHandler は読書グループのページのハンドラー。
type GroupHandler struct {
	pages   *Pages
	service GroupServiceInterface
}

// NewGroupHandler はGroupHandlerを生成する。
func NewGroupHandler(pages *Pages, service GroupServiceInterface) *GroupHandler {
	return &GroupHandler{pages: pages, service: service}
}

type groupsData struct {
	Groups   viewstate.State[[]view.GroupCard]
	JoinCode string
	Errors   map[string]string
	Message  string
}

type groupFormData struct {
	Editing bool
	GroupID string
	Form    validation.GroupForm
	Errors  map[string]string
	Message string
}

type inviteData struct {
	Groups  viewstate.State[[]model.Group]
	GroupID string
	Emails  []string
	Errors  map[string]string
	Message string
}

// List は参加中のグループと招待コードでの参加フォームを表示する。
// GET /groups
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	data, ok := h.groupsData(w, r)
	if !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "groups", "読書グループ", "groups", data)
}

func (h *GroupHandler) groupsData(w http.ResponseWriter, r *http.Request) (groupsData, bool) {
	token := h.csrfToken(r)
	groups, ok := fetchPage(h.pages, w, r, "groups", func(ctx context.Context, sess *model.Session) ([]view.GroupCard, error) {
		memberships, err := h.service.ListMine(ctx, sess)
		if err != nil {
			return nil, err
		}
		cards := make([]view.GroupCard, len(memberships))
		for i, m := range memberships {
			cards[i] = view.GroupCard{Membership: m, CSRFToken: token}
		}
		return cards, nil
	})
	return groupsData{Groups: groups}, ok
}

// Join は招待コードでグループに参加する。
// 失敗した場合は通知を表示し、参加中のグループ一覧はそのまま再表示する。
// POST /groups/join
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	form := validation.JoinGroupForm{Code: r.PostFormValue("code")}

	st := h.pages.mutate(r, "groups.join",
		func() map[string]string { return form.Validate() },
		func() []string { return []string{form.Code} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.Join(ctx, sess, form.Code)
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/groups", flashSuccess, "グループに参加しました。")
		return
	}

	data, ok := h.groupsData(w, r)
	if !ok {
		return
	}
	data.JoinCode, data.Errors = form.Code, st.FieldErrors
	h.pages.renderWithFlash(w, r, failureStatus(st), "groups", "読書グループ", "groups", data, flashError, st.Message())
}

// CreatePage はグループ作成フォームを表示する。
// GET /groups/create
func (h *GroupHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "group_form", "グループを作成", "groups", groupFormData{})
}

// Create はグループを作成する。アバター画像が選択されていれば先にアップロードする。
// POST /groups/create
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	form, avatar := h.parseGroupForm(r)

	st := h.pages.mutate(r, "groups.create",
		func() map[string]string { return validateGroupForm(&form, avatar) },
		func() []string { return groupFormKey(form, avatar) },
		func(ctx context.Context, sess *model.Session) (any, error) {
			if err := h.uploadAvatar(ctx, sess, &form, avatar); err != nil {
				return nil, err
			}
			return h.service.Create(ctx, sess, form.Input())
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/groups", flashSuccess, fmt.Sprintf("グループ「%s」を作成しました。", form.Name))
		return
	}
	h.pages.render(w, r, failureStatus(st), "group_form", "グループを作成", "groups", groupFormData{
		Form:    form,
		Errors:  st.FieldErrors,
		Message: st.Message(),
	})
}

// EditPage はグループ編集フォームを表示する。管理者のみ編集できる。
// GET /groups/{id}/edit
func (h *GroupHandler) EditPage(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	membership, ok := fetchPage(h.pages, w, r, "groups.edit", func(ctx context.Context, sess *model.Session) (*model.Membership, error) {
		return h.service.GetAdministered(ctx, sess, groupID)
	})
	if !ok {
		return
	}
	if membership.Failed() {
		h.pages.renderError(w, r, errorStatus(membership.Err), membership.Message())
		return
	}

	m := membership.Data
	h.pages.render(w, r, http.StatusOK, "group_form", "グループを編集", "groups", groupFormData{
		Editing: true,
		GroupID: groupID,
		Form:    validation.GroupForm{Name: m.Name, Description: m.Description, AvatarURL: m.AvatarURL},
	})
}

// Edit はグループ情報を更新する。
// POST /groups/{id}/edit
func (h *GroupHandler) Edit(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	form, avatar := h.parseGroupForm(r)

	st := h.pages.mutate(r, "groups.edit",
		func() map[string]string { return validateGroupForm(&form, avatar) },
		func() []string { return append([]string{groupID}, groupFormKey(form, avatar)...) },
		func(ctx context.Context, sess *model.Session) (any, error) {
			if err := h.uploadAvatar(ctx, sess, &form, avatar); err != nil {
				return nil, err
			}
			return nil, h.service.Update(ctx, sess, groupID, form.Input())
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/groups", flashSuccess, "グループを更新しました。")
		return
	}
	h.pages.render(w, r, failureStatus(st), "group_form", "グループを編集", "groups", groupFormData{
		Editing: true,
		GroupID: groupID,
		Form:    form,
		Errors:  st.FieldErrors,
		Message: st.Message(),
	})
}

// Delete はグループを削除する。フラグメント要求の場合は空の応答を返し、カードを一覧から取り除かせる。
// POST /groups/{id}/delete
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	st := h.pages.mutate(r, "groups.delete", nil,
		func() []string { return []string{groupID} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.Delete(ctx, sess, groupID)
		},
	)
	h.respondRemoved(w, r, st, "グループを削除しました。")
}

// Leave はグループから退会する。削除と同様にカードを一覧から取り除かせる。
// POST /groups/{id}/leave
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	st := h.pages.mutate(r, "groups.leave", nil,
		func() []string { return []string{groupID} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.Leave(ctx, sess, groupID)
		},
	)
	h.respondRemoved(w, r, st, "グループから退会しました。")
}

// RegenerateCode は招待コードを再発行する。フラグメント要求の場合は新しいコードのカードを返す。
// POST /groups/{id}/regenerate-code
func (h *GroupHandler) RegenerateCode(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	st := h.pages.mutate(r, "groups.regenerate", nil,
		func() []string { return []string{groupID} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return h.service.RegenerateCode(ctx, sess, groupID)
		},
	)
	if !st.Succeeded() {
		h.respondFailure(w, r, st)
		return
	}

	code, _ := viewstate.ValueAs[string](st)
	message := "招待コードを再発行しました。"
	if !isFragment(r) {
		h.pages.redirect(w, r, "/groups", flashSuccess, message)
		return
	}

	// 再発行後のカードを描画する
	membership, err := h.service.Get(r.Context(), sessionFrom(r), groupID)
	if err != nil {
		logUnexpected("failed to reload group", err)
		writeToast(w, flashError, viewstate.Describe(err))
		w.WriteHeader(errorStatus(err))
		return
	}
	if code != "" {
		membership.InvitationCode = code
	}
	writeToast(w, flashSuccess, message)
	card := view.GroupCard{Membership: *membership, CSRFToken: h.csrfToken(r)}
	if err := h.pages.view.RenderFragment(w, http.StatusOK, "group-card", card); err != nil {
		logUnexpected("failed to render group card", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// InvitePage はメール招待フォームを表示する。招待できるのは管理者のグループのみ。
// GET /groups/invite?groupId=xxx
func (h *GroupHandler) InvitePage(w http.ResponseWriter, r *http.Request) {
	groups, ok := fetchPage(h.pages, w, r, "groups.invite", h.service.AdminGroups)
	if !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "invite", "メンバーを招待", "groups", inviteData{
		Groups:  groups,
		GroupID: r.URL.Query().Get("groupId"),
		Emails:  []string{""},
	})
}

// Invite は招待メールを送信する。
// POST /groups/invite
func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.renderError(w, r, http.StatusBadRequest, "リクエストの形式が正しくありません。")
		return
	}
	rows := append([]string(nil), r.PostForm["emails"]...)
	form := validation.InviteForm{GroupID: r.PostFormValue("group_id"), Emails: r.PostForm["emails"]}

	st := h.pages.mutate(r, "groups.invite",
		func() map[string]string { return form.Validate() },
		func() []string { return inviteKey(form) },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.Invite(ctx, sess, form.GroupID, form.Emails)
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/groups", flashSuccess, fmt.Sprintf("%d件の招待を送信しました。", len(form.Emails)))
		return
	}

	groups, ok := fetchPage(h.pages, w, r, "groups.invite", h.service.AdminGroups)
	if !ok {
		return
	}
	if len(rows) == 0 {
		rows = []string{""}
	}
	h.pages.render(w, r, failureStatus(st), "invite", "メンバーを招待", "groups", inviteData{
		Groups:  groups,
		GroupID: form.GroupID,
		Emails:  rows,
		Errors:  st.FieldErrors,
		Message: st.Message(),
	})
}

// respondRemoved は一覧から要素を取り除く操作の結果を返す。
func (h *GroupHandler) respondRemoved(w http.ResponseWriter, r *http.Request, st viewstate.MutateState, message string) {
	if !st.Succeeded() {
		h.respondFailure(w, r, st)
		return
	}
	if isFragment(r) {
		writeToast(w, flashSuccess, message)
		w.WriteHeader(http.StatusOK)
		return
	}
	h.pages.redirect(w, r, "/groups", flashSuccess, message)
}

// respondFailure は更新の失敗を通知する。表示中の一覧は変更しない。
func (h *GroupHandler) respondFailure(w http.ResponseWriter, r *http.Request, st viewstate.MutateState) {
	if isFragment(r) {
		writeToast(w, flashError, st.Message())
		w.WriteHeader(failureStatus(st))
		return
	}
	h.pages.redirect(w, r, "/groups", flashError, st.Message())
}

func (h *GroupHandler) csrfToken(r *http.Request) string {
	return middleware.CSRFToken(r)
}

// groupAvatar はフォームで選択されたアバター画像。
type groupAvatar struct {
	contentType string
	data        []byte
	size        int64
}

// parseGroupForm はグループフォームとアバター画像を読み取る。画像は検証前に上限+1バイトまで読む。
func (h *GroupHandler) parseGroupForm(r *http.Request) (validation.GroupForm, *groupAvatar) {
	form := validation.GroupForm{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		AvatarURL:   r.PostFormValue("avatar_url"),
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		return form, nil
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, validation.MaxAvatarBytes+1))
	if err != nil {
		return form, &groupAvatar{contentType: header.Header.Get("Content-Type")}
	}
	return form, &groupAvatar{
		contentType: header.Header.Get("Content-Type"),
		data:        data,
		size:        int64(len(data)),
	}
}

func validateGroupForm(form *validation.GroupForm, avatar *groupAvatar) map[string]string {
	errs := form.Validate()
	if avatar != nil {
		for field, msg := range (validation.AvatarUpload{ContentType: avatar.contentType, Size: avatar.size}).Validate() {
			errs.Add(field, msg)
		}
	}
	return errs
}

// groupFormKey は正規化済みのグループフォームと画像から重複送信の判定に使う値を返す。
func groupFormKey(form validation.GroupForm, avatar *groupAvatar) []string {
	parts := []string{form.Name, form.Description, form.AvatarURL}
	if avatar != nil {
		parts = append(parts, avatar.contentType, string(avatar.data))
	}
	return parts
}

// inviteKey は招待先の順序に依存しないキーの値を返す。
func inviteKey(form validation.InviteForm) []string {
	emails := slices.Clone(form.Emails)
	slices.Sort(emails)
	return append([]string{form.GroupID}, emails...)
}

func (h *GroupHandler) uploadAvatar(ctx context.Context, sess *model.Session, form *validation.GroupForm, avatar *groupAvatar) error {
	if avatar == nil {
		return nil
	}
	url, err := h.service.UploadAvatar(ctx, sess, avatar.contentType, avatar.data)
	if err != nil {
		return err
	}
	form.AvatarURL = url
	return nil
}
