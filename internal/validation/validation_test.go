package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/codex/internal/model"
)

func TestNormalize(t *testing.T) {
	// 「か」+ 結合文字の濁点 は NFC で「が」1文字になる
	decomposed := "  \u304b\u3099  "
	got := Normalize(decomposed)
	assert.Equal(t, "が", got)
	assert.Equal(t, 1, Length(got))
}

func TestIsEmail(t *testing.T) {
	tests := map[string]bool{
		"reader@example.com":          true,
		"first.last+tag@example.jp":   true,
		"":                            false,
		"reader":                      false,
		"reader@localhost":            false,
		"Reader <reader@example.com>": false,
		"reader@exa mple.com":         false,
		"@example.com":                false,
	}
	for input, want := range tests {
		assert.Equal(t, want, IsEmail(input), input)
	}
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.png"))
	assert.True(t, IsURL("http://example.com"))
	assert.False(t, IsURL("ftp://example.com/a.png"))
	assert.False(t, IsURL("example.com/a.png"))
	assert.False(t, IsURL("https://"))
}

func TestGroupForm_Validate(t *testing.T) {
	tests := []struct {
		name      string
		form      GroupForm
		wantField string
		wantMsg   string
	}{
		{name: "too short", form: GroupForm{Name: "ab"}, wantField: "name", wantMsg: "3文字以上"},
		{name: "empty", form: GroupForm{Name: "   "}, wantField: "name", wantMsg: "グループ名を入力してください。"},
		{name: "too long", form: GroupForm{Name: strings.Repeat("本", 51)}, wantField: "name", wantMsg: "50文字以内"},
		{name: "description too long", form: GroupForm{Name: "読書会", Description: strings.Repeat("a", 281)}, wantField: "description", wantMsg: "280文字以内"},
		{name: "bad avatar url", form: GroupForm{Name: "読書会", AvatarURL: "not a url"}, wantField: "avatar_url", wantMsg: "URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.form.Validate()
			require.True(t, errs.HasErrors())
			assert.Contains(t, errs.Get(tt.wantField), tt.wantMsg)
		})
	}
}

func TestGroupForm_Validate_Boundaries(t *testing.T) {
	for _, n := range []int{3, 50} {
		f := GroupForm{Name: strings.Repeat("本", n), Description: strings.Repeat("あ", 280)}
		assert.False(t, f.Validate().HasErrors(), "length %d should pass", n)
	}

	f := GroupForm{Name: "  SF読書会  ", AvatarURL: "https://cdn.example.com/g.png"}
	require.False(t, f.Validate().HasErrors())
	assert.Equal(t, model.GroupInput{Name: "SF読書会", AvatarURL: "https://cdn.example.com/g.png"}, f.Input())
}

func TestJoinGroupForm_Validate(t *testing.T) {
	f := JoinGroupForm{Code: "  "}
	assert.Equal(t, "招待コードを入力してください。", f.Validate().Get("code"))

	f = JoinGroupForm{Code: " ABC123 "}
	assert.False(t, f.Validate().HasErrors())
	assert.Equal(t, "ABC123", f.Code)
}

func TestInviteForm_Validate(t *testing.T) {
	t.Run("group required", func(t *testing.T) {
		f := InviteForm{Emails: []string{"a@example.com"}}
		assert.Equal(t, "グループを選択してください。", f.Validate().Get("group_id"))
	})

	t.Run("blank rows ignored", func(t *testing.T) {
		f := InviteForm{GroupID: "g-1", Emails: []string{"", " a@example.com ", "  "}}
		errs := f.Validate()
		assert.False(t, errs.HasErrors())
		assert.Equal(t, []string{"a@example.com"}, f.Emails)
	})

	t.Run("at least one email", func(t *testing.T) {
		f := InviteForm{GroupID: "g-1", Emails: []string{"", ""}}
		assert.NotEmpty(t, f.Validate().Get("emails"))
	})

	t.Run("invalid row reported by index", func(t *testing.T) {
		f := InviteForm{GroupID: "g-1", Emails: []string{"a@example.com", "", "broken"}}
		errs := f.Validate()
		assert.Equal(t, "メールアドレスの形式が正しくありません。", errs.Get("emails.2"))
		assert.Empty(t, errs.Get("emails"))
	})
}

func TestProfileForm_Validate(t *testing.T) {
	valid := func() ProfileForm {
		return ProfileForm{
			Username:        "reader",
			Bio:             "本が好きです",
			FavoriteGenres:  []string{"SF", "歴史"},
			FavoriteAuthors: []string{"村上春樹"},
			PreferredPace:   "regular",
		}
	}

	t.Run("valid", func(t *testing.T) {
		f := valid()
		assert.False(t, f.Validate().HasErrors())
		assert.Equal(t, model.PaceRegular, f.Update().PreferredPace)
	})

	t.Run("username too short", func(t *testing.T) {
		f := valid()
		f.Username = "a"
		assert.Contains(t, f.Validate().Get("username"), "2文字以上")
	})

	t.Run("too many genres", func(t *testing.T) {
		f := valid()
		f.FavoriteGenres = Genres[:6]
		assert.Contains(t, f.Validate().Get("favorite_genres"), "5つまで")
	})

	t.Run("unknown genre", func(t *testing.T) {
		f := valid()
		f.FavoriteGenres = []string{"料理"}
		assert.Contains(t, f.Validate().Get("favorite_genres"), "料理")
	})

	t.Run("duplicate authors collapsed", func(t *testing.T) {
		f := valid()
		f.FavoriteAuthors = []string{"A", "A", " A ", "B", "C", "D", "E"}
		assert.False(t, f.Validate().HasErrors())
		assert.Equal(t, []string{"A", "B", "C", "D", "E"}, f.FavoriteAuthors)
	})

	t.Run("too many authors", func(t *testing.T) {
		f := valid()
		f.FavoriteAuthors = []string{"A", "B", "C", "D", "E", "F"}
		assert.Contains(t, f.Validate().Get("favorite_authors"), "5人まで")
	})

	t.Run("author name too long", func(t *testing.T) {
		f := valid()
		f.FavoriteAuthors = []string{strings.Repeat("著", 101)}
		assert.Contains(t, f.Validate().Get("favorite_authors"), "100文字以内")
	})

	t.Run("unknown pace", func(t *testing.T) {
		f := valid()
		f.PreferredPace = "fast"
		assert.NotEmpty(t, f.Validate().Get("preferred_pace"))
	})

	t.Run("bio too long", func(t *testing.T) {
		f := valid()
		f.Bio = strings.Repeat("あ", 281)
		assert.NotEmpty(t, f.Validate().Get("bio"))
	})
}

func TestSignupForm_Validate(t *testing.T) {
	f := SignupForm{Username: "r", Email: "bad", Password: "12345", ConfirmPassword: "123456"}
	errs := f.Validate()

	assert.Contains(t, errs.Get("username"), "2文字以上")
	assert.Equal(t, "メールアドレスの形式が正しくありません。", errs.Get("email"))
	assert.Contains(t, errs.Get("password"), "6文字以上")
	assert.Equal(t, "パスワードが一致しません。", errs.Get("confirm_password"))

	f = SignupForm{Username: "reader", Email: " reader@example.com ", Password: "secret1", ConfirmPassword: "secret1"}
	assert.False(t, f.Validate().HasErrors())
	assert.Equal(t, "reader@example.com", f.Email)
}

func TestLoginForm_Validate(t *testing.T) {
	f := LoginForm{}
	errs := f.Validate()
	assert.Equal(t, "メールアドレスを入力してください。", errs.Get("email"))
	assert.Equal(t, "パスワードを入力してください。", errs.Get("password"))
}

func TestForgotPasswordForm_Validate(t *testing.T) {
	f := ForgotPasswordForm{Email: "reader@example.com"}
	assert.False(t, f.Validate().HasErrors())
}

func TestResetPasswordForm_Validate(t *testing.T) {
	f := ResetPasswordForm{Password: "newsecret", ConfirmPassword: "newsecreT"}
	assert.Contains(t, f.Validate().Get("confirm_password"), "一致しません")

	f = ResetPasswordForm{Password: "newsecret", ConfirmPassword: "newsecret"}
	assert.False(t, f.Validate().HasErrors())
}

func TestManualBookForm_Validate(t *testing.T) {
	t.Run("title required", func(t *testing.T) {
		f := ManualBookForm{}
		assert.Equal(t, "タイトルを入力してください。", f.Validate().Get("title"))
	})

	t.Run("page count must be positive integer", func(t *testing.T) {
		for _, pc := range []string{"0", "-3", "abc", "1.5"} {
			f := ManualBookForm{Title: "Dune", PageCount: pc}
			assert.NotEmpty(t, f.Validate().Get("page_count"), pc)
		}
	})

	t.Run("cover url", func(t *testing.T) {
		f := ManualBookForm{Title: "Dune", CoverURL: "cover.png"}
		assert.NotEmpty(t, f.Validate().Get("cover_url"))
	})

	t.Run("converts to book", func(t *testing.T) {
		f := ManualBookForm{Title: " Dune ", Author: "Frank Herbert", PageCount: "412", CoverURL: ""}
		require.False(t, f.Validate().HasErrors())
		book := f.Book()
		assert.Equal(t, "Dune", book.Title)
		assert.Equal(t, 412, book.PageCount)
		assert.Empty(t, book.GoogleBooksID)
	})
}

func TestAvatarUpload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		upload  AvatarUpload
		wantErr bool
	}{
		{"png", AvatarUpload{ContentType: "image/png", Size: 1024}, false},
		{"jpeg", AvatarUpload{ContentType: "image/jpeg", Size: 1024}, false},
		{"gif at limit", AvatarUpload{ContentType: "image/gif", Size: MaxAvatarBytes}, false},
		{"webp", AvatarUpload{ContentType: "image/webp", Size: 1024}, true},
		{"too large", AvatarUpload{ContentType: "image/png", Size: MaxAvatarBytes + 1}, true},
		{"empty", AvatarUpload{ContentType: "image/png"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.upload.Validate().HasErrors())
		})
	}
}

func TestSameUsername(t *testing.T) {
	assert.True(t, SameUsername("Reader", " reader "))
	assert.False(t, SameUsername("reader", "reader2"))
}
