package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/profile"
	"github.com/hitoshi/codex/internal/validation"
	"github.com/hitoshi/codex/internal/viewstate"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Overview(ctx context.Context, sess *model.Session, period model.ActivityPeriod) (*profile.Overview, error)
	Update(ctx context.Context, sess *model.Session, update model.ProfileUpdate) error
	UploadAvatar(ctx context.Context, sess *model.Session, r io.Reader) (string, error)
}

var readingPaces = []model.ReadingPace{model.PaceOccasional, model.PaceRegular, model.PacePassionate}

// ProfileHandler はプロフィールページのハンドラー。
type ProfileHandler struct {
	pages   *Pages
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(pages *Pages, service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{pages: pages, service: service}
}

type profileData struct {
	Overview viewstate.State[*profile.Overview]
	Form     validation.ProfileForm
	Errors   map[string]string
	Message  string
	Genres   []string
	Paces    []model.ReadingPace
}

// Show はプロフィール、読書統計、バッジ、読書アクティビティと編集フォームを表示する。
// GET /profile?period=month
func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	data, ok := h.profileData(w, r, model.ParseActivityPeriod(r.URL.Query().Get("period")))
	if !ok {
		return
	}
	if data.Overview.HasData() {
		p := data.Overview.Data.Profile
		data.Form = validation.ProfileForm{
			Username:        p.Username,
			Bio:             p.Bio,
			FavoriteGenres:  p.FavoriteGenres,
			FavoriteAuthors: p.FavoriteAuthors,
			PreferredPace:   string(p.PreferredPace),
		}
	}
	h.pages.render(w, r, http.StatusOK, "profile", "プロフィール", "profile", data)
}

func (h *ProfileHandler) profileData(w http.ResponseWriter, r *http.Request, period model.ActivityPeriod) (profileData, bool) {
	overview, ok := fetchPage(h.pages, w, r, "profile", func(ctx context.Context, sess *model.Session) (*profile.Overview, error) {
		return h.service.Overview(ctx, sess, period)
	})
	return profileData{
		Overview: overview,
		Genres:   validation.Genres,
		Paces:    readingPaces,
	}, ok
}

// Update はプロフィールを更新する。
// POST /profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.renderError(w, r, http.StatusBadRequest, "リクエストの形式が正しくありません。")
		return
	}
	form := validation.ProfileForm{
		Username:        r.PostFormValue("username"),
		Bio:             r.PostFormValue("bio"),
		FavoriteGenres:  r.PostForm["favorite_genres"],
		FavoriteAuthors: splitAuthors(r.PostFormValue("favorite_authors")),
		PreferredPace:   r.PostFormValue("preferred_pace"),
	}

	st := h.pages.mutate(r, "profile.update",
		func() map[string]string { return form.Validate() },
		func() []string {
			return []string{form.Username, form.Bio, form.PreferredPace,
				strings.Join(form.FavoriteGenres, "\n"), strings.Join(form.FavoriteAuthors, "\n")}
		},
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.Update(ctx, sess, form.Update())
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/profile", flashSuccess, "プロフィールを更新しました。")
		return
	}

	data, ok := h.profileData(w, r, model.PeriodMonth)
	if !ok {
		return
	}
	data.Form, data.Errors, data.Message = form, st.FieldErrors, st.Message()
	h.pages.render(w, r, failureStatus(st), "profile", "プロフィール", "profile", data)
}

// UploadAvatar はアバター画像をアップロードする。
// POST /profile/avatar
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	upload := validation.AvatarUpload{}
	var body []byte
	if file, header, err := r.FormFile("avatar"); err == nil {
		body, err = io.ReadAll(io.LimitReader(file, validation.MaxAvatarBytes+1))
		file.Close()
		if err == nil {
			upload = validation.AvatarUpload{ContentType: header.Header.Get("Content-Type"), Size: int64(len(body))}
		}
	}

	st := h.pages.mutate(r, "profile.avatar",
		func() map[string]string { return upload.Validate() },
		func() []string { return []string{upload.ContentType, string(body)} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return h.service.UploadAvatar(ctx, sess, bytes.NewReader(body))
		},
	)
	if !st.Succeeded() {
		message := st.Message()
		if st.Invalid() {
			message = st.FieldErrors["avatar"]
		}
		h.pages.redirect(w, r, "/profile", flashError, message)
		return
	}
	h.pages.redirect(w, r, "/profile", flashSuccess, "アバター画像を更新しました。")
}

// splitAuthors はカンマ（全角を含む）区切りの著者名を分割する。
func splitAuthors(s string) []string {
	s = strings.ReplaceAll(s, "、", ",")
	s = strings.ReplaceAll(s, "，", ",")
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
