package validation

import (
	"fmt"
	"strconv"

	"github.com/hitoshi/codex/internal/model"
)

// 文字数の上限
const (
	MaxNameLength       = 50
	MaxTextLength       = 280
	MaxAuthorNameLength = 100
	MaxFavoriteGenres   = 5
	MaxFavoriteAuthors  = 5
	MinGroupNameLength  = 3
	MinUsernameLength   = 2
	MinPasswordLength   = 6
	MaxAvatarBytes      = 5 << 20
)

// Genres は選択できるジャンルの一覧。
var Genres = []string{
	"SF", "ファンタジー", "伝記", "歴史", "ホラー",
	"スリラー", "小説", "児童書", "マンガ", "自己啓発",
}

// GroupForm はグループ作成・編集フォーム。
type GroupForm struct {
	Name        string
	Description string
	AvatarURL   string
}

// Validate は入力を正規化して検証する。
func (f *GroupForm) Validate() Errors {
	f.Name = Normalize(f.Name)
	f.Description = Normalize(f.Description)
	f.AvatarURL = Normalize(f.AvatarURL)

	errs := Errors{}
	if required(errs, "name", f.Name, "グループ名を入力してください。") {
		minLength(errs, "name", f.Name, MinGroupNameLength, "グループ名は3文字以上で入力してください。")
		maxLength(errs, "name", f.Name, MaxNameLength, "グループ名は50文字以内で入力してください。")
	}
	maxLength(errs, "description", f.Description, MaxTextLength, "説明は280文字以内で入力してください。")
	optionalURL(errs, "avatar_url", f.AvatarURL, "画像URLの形式が正しくありません。")
	return errs
}

// Input はモデルの入力に変換する。
func (f *GroupForm) Input() model.GroupInput {
	return model.GroupInput{Name: f.Name, Description: f.Description, AvatarURL: f.AvatarURL}
}

// JoinGroupForm は招待コードによる参加フォーム。
type JoinGroupForm struct {
	Code string
}

// Validate は入力を正規化して検証する。
func (f *JoinGroupForm) Validate() Errors {
	f.Code = Normalize(f.Code)
	errs := Errors{}
	required(errs, "code", f.Code, "招待コードを入力してください。")
	return errs
}

// InviteForm はメールによる招待フォーム。空の行は無視する。
type InviteForm struct {
	GroupID string
	Emails  []string
}

// Validate は入力を正規化して検証する。
// メールアドレスのエラーは "emails.<入力行の番号>" に設定する。
func (f *InviteForm) Validate() Errors {
	f.GroupID = Normalize(f.GroupID)

	errs := Errors{}
	required(errs, "group_id", f.GroupID, "グループを選択してください。")

	var emails []string
	for i, raw := range f.Emails {
		addr := Normalize(raw)
		if addr == "" {
			continue
		}
		if !IsEmail(addr) {
			errs.Add(fmt.Sprintf("emails.%d", i), "メールアドレスの形式が正しくありません。")
		}
		emails = append(emails, addr)
	}
	if len(emails) == 0 {
		errs.Add("emails", "招待するメールアドレスを1件以上入力してください。")
	}
	f.Emails = emails
	return errs
}

// ProfileForm はプロフィール編集フォーム。
type ProfileForm struct {
	Username        string
	Bio             string
	FavoriteGenres  []string
	FavoriteAuthors []string
	PreferredPace   string
}

// Validate は入力を正規化して検証する。
func (f *ProfileForm) Validate() Errors {
	f.Username = Normalize(f.Username)
	f.Bio = Normalize(f.Bio)
	f.FavoriteGenres = normalizeList(f.FavoriteGenres)
	f.FavoriteAuthors = normalizeList(f.FavoriteAuthors)
	f.PreferredPace = Normalize(f.PreferredPace)

	errs := Errors{}
	username(errs, f.Username)
	maxLength(errs, "bio", f.Bio, MaxTextLength, "自己紹介は280文字以内で入力してください。")

	if len(f.FavoriteGenres) > MaxFavoriteGenres {
		errs.Add("favorite_genres", "好きなジャンルは5つまで選択できます。")
	}
	for _, g := range f.FavoriteGenres {
		if !isKnownGenre(g) {
			errs.Add("favorite_genres", fmt.Sprintf("不明なジャンルです: %s", g))
		}
	}

	if len(f.FavoriteAuthors) > MaxFavoriteAuthors {
		errs.Add("favorite_authors", "好きな著者は5人まで登録できます。")
	}
	for _, a := range f.FavoriteAuthors {
		maxLength(errs, "favorite_authors", a, MaxAuthorNameLength, "著者名は100文字以内で入力してください。")
	}

	if f.PreferredPace != "" && !model.ReadingPace(f.PreferredPace).Valid() {
		errs.Add("preferred_pace", "読書ペースを選択してください。")
	}
	return errs
}

// Update はモデルの更新内容に変換する。
func (f *ProfileForm) Update() model.ProfileUpdate {
	return model.ProfileUpdate{
		Username:        f.Username,
		Bio:             f.Bio,
		FavoriteGenres:  f.FavoriteGenres,
		FavoriteAuthors: f.FavoriteAuthors,
		PreferredPace:   model.ReadingPace(f.PreferredPace),
	}
}

// SignupForm は新規登録フォーム。
type SignupForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate は入力を正規化して検証する。パスワードは正規化しない。
func (f *SignupForm) Validate() Errors {
	f.Username = Normalize(f.Username)
	f.Email = Normalize(f.Email)

	errs := Errors{}
	username(errs, f.Username)
	email(errs, "email", f.Email)
	password(errs, f.Password, f.ConfirmPassword)
	return errs
}

// LoginForm はログインフォーム。
type LoginForm struct {
	Email    string
	Password string
}

// Validate は入力を正規化して検証する。
func (f *LoginForm) Validate() Errors {
	f.Email = Normalize(f.Email)

	errs := Errors{}
	email(errs, "email", f.Email)
	required(errs, "password", f.Password, "パスワードを入力してください。")
	return errs
}

// ForgotPasswordForm はパスワード再設定メールの送信フォーム。
type ForgotPasswordForm struct {
	Email string
}

// Validate は入力を正規化して検証する。
func (f *ForgotPasswordForm) Validate() Errors {
	f.Email = Normalize(f.Email)

	errs := Errors{}
	email(errs, "email", f.Email)
	return errs
}

// ResetPasswordForm は新しいパスワードの設定フォーム。
type ResetPasswordForm struct {
	Password        string
	ConfirmPassword string
}

// Validate は入力を検証する。
func (f *ResetPasswordForm) Validate() Errors {
	errs := Errors{}
	password(errs, f.Password, f.ConfirmPassword)
	return errs
}

// ManualBookForm は本の手動登録フォーム。タイトル以外は任意。
type ManualBookForm struct {
	Title         string
	Author        string
	Description   string
	CoverURL      string
	PageCount     string
	Genre         string
	ISBN          string
	PublishedDate string
	Publisher     string

	pageCount int
}

// Validate は入力を正規化して検証する。
func (f *ManualBookForm) Validate() Errors {
	for _, p := range []*string{
		&f.Title, &f.Author, &f.Description, &f.CoverURL, &f.PageCount,
		&f.Genre, &f.ISBN, &f.PublishedDate, &f.Publisher,
	} {
		*p = Normalize(*p)
	}

	errs := Errors{}
	required(errs, "title", f.Title, "タイトルを入力してください。")
	optionalURL(errs, "cover_url", f.CoverURL, "表紙画像のURLが正しくありません。")

	f.pageCount = 0
	if f.PageCount != "" {
		n, err := strconv.Atoi(f.PageCount)
		if err != nil || n <= 0 {
			errs.Add("page_count", "ページ数は正の整数で入力してください。")
		} else {
			f.pageCount = n
		}
	}
	return errs
}

// Book はモデルの追加内容に変換する。Validateの後に呼ぶ。
func (f *ManualBookForm) Book() model.NewBook {
	return model.NewBook{
		ISBN:          f.ISBN,
		Title:         f.Title,
		Author:        f.Author,
		Description:   f.Description,
		CoverURL:      f.CoverURL,
		PageCount:     f.pageCount,
		Genre:         f.Genre,
		PublishedDate: f.PublishedDate,
		Publisher:     f.Publisher,
	}
}

// AvatarUpload はアップロード画像の検証対象。
type AvatarUpload struct {
	ContentType string
	Size        int64
}

// Validate は画像の形式とサイズを検証する。
func (a AvatarUpload) Validate() Errors {
	errs := Errors{}
	switch a.ContentType {
	case "image/png", "image/jpeg", "image/gif":
	default:
		errs.Add("avatar", "PNG、JPEG、GIF形式の画像を選択してください。")
	}
	if a.Size <= 0 {
		errs.Add("avatar", "画像ファイルを選択してください。")
	} else if a.Size > MaxAvatarBytes {
		errs.Add("avatar", "画像のサイズは5MB以下にしてください。")
	}
	return errs
}

func username(errs Errors, value string) {
	if required(errs, "username", value, "ユーザー名を入力してください。") {
		minLength(errs, "username", value, MinUsernameLength, "ユーザー名は2文字以上で入力してください。")
		maxLength(errs, "username", value, MaxNameLength, "ユーザー名は50文字以内で入力してください。")
	}
}

func password(errs Errors, pw, confirm string) {
	if required(errs, "password", pw, "パスワードを入力してください。") {
		minLength(errs, "password", pw, MinPasswordLength, "パスワードは6文字以上で入力してください。")
	}
	if pw != confirm {
		errs.Add("confirm_password", "パスワードが一致しません。")
	}
}

func isKnownGenre(g string) bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}
