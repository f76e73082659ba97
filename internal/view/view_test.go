package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/viewstate"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestNew_ParsesAllPages(t *testing.T) {
	r := newTestRenderer(t)
	for _, name := range []string{
		"landing", "login", "signup", "signup_done", "forgot_password", "reset_password",
		"auth_error", "dashboard", "groups", "group_form", "invite", "library",
		"add_book", "reviews", "discover", "profile", "error",
	} {
		if !r.Has(name) {
			t.Errorf("page %q is not parsed", name)
		}
	}
	if r.Has("layout") || r.Has("partials") {
		t.Error("layout and partials should not be pages")
	}
}

func TestRender_UnknownPage(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()
	if err := r.Render(rec, http.StatusOK, "nope", &Page{}); err == nil {
		t.Fatal("expected error")
	}
	if rec.Body.Len() != 0 {
		t.Error("nothing should be written on error")
	}
}

func TestRender_LayoutForSignedInUser(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()

	page := &Page{
		Title:     "本棚",
		Nav:       "library",
		CSRFToken: "tok123",
		SignedIn:  true,
		Flash:     &Flash{Kind: "success", Message: "本を追加しました。"},
		Data: struct {
			Status  model.ReadingStatus
			Filters []model.ReadingStatus
			Entries viewstate.State[[]model.LibraryEntry]
		}{
			Status:  model.StatusAll,
			Filters: []model.ReadingStatus{model.StatusAll, model.StatusReading},
			Entries: viewstate.State[[]model.LibraryEntry]{Status: viewstate.Success, Empty: true},
		},
	}
	if err := r.Render(rec, http.StatusOK, "library", page); err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"<title>本棚 | Codex</title>",
		"ダッシュボード", "発見", "読書グループ", "プロフィール", "ログアウト",
		`value="tok123"`,
		"本を追加しました。",
		`aria-current="page">本棚</a>`,
		"この本棚にはまだ本がありません。",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRender_ErrorStateSuppressesData(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()

	page := &Page{SignedIn: true, Data: struct {
		Items viewstate.State[[]model.DiscoverItem]
	}{
		Items: viewstate.State[[]model.DiscoverItem]{
			Status: viewstate.Error,
			Err:    model.NewInternalError(),
			Data:   []model.DiscoverItem{{Title: "古い記事"}},
		},
	}}
	if err := r.Render(rec, http.StatusOK, "discover", page); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	body := rec.Body.String()
	if strings.Contains(body, "古い記事") {
		t.Error("stale data must not be rendered in the error state")
	}
	if !strings.Contains(body, "alert-error") {
		t.Error("error message is missing")
	}
}

func TestRender_LoadingShowsIndicatorOnly(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()

	page := &Page{SignedIn: true, Data: struct {
		Reviews viewstate.State[[]model.LibraryEntry]
	}{
		Reviews: viewstate.State[[]model.LibraryEntry]{
			Status: viewstate.Loading,
			Data:   []model.LibraryEntry{{Book: model.Book{Title: "表示されない本"}}},
		},
	}}
	if err := r.Render(rec, http.StatusOK, "reviews", page); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "読み込み中") || strings.Contains(body, "表示されない本") {
		t.Errorf("unexpected loading render: %s", body)
	}
}

func TestRender_DiscoverSummaryIsNotEscaped(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()
	published := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	page := &Page{SignedIn: true, Data: struct {
		Items viewstate.State[[]model.DiscoverItem]
	}{
		Items: viewstate.State[[]model.DiscoverItem]{Status: viewstate.Success, Data: []model.DiscoverItem{{
			Title:       "新刊紹介",
			Link:        "https://news.example.com/a",
			Summary:     "<p>今月の<strong>新刊</strong></p>",
			PublishedAt: &published,
		}}},
	}}
	if err := r.Render(rec, http.StatusOK, "discover", page); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>新刊</strong>") {
		t.Error("summary HTML should be rendered as-is")
	}
	if !strings.Contains(body, "2026年5月1日") {
		t.Error("published date is missing")
	}
}

func TestRenderFragment_GroupCard(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()

	card := GroupCard{
		CSRFToken: "tok",
		Membership: model.Membership{
			Group:        model.Group{ID: "g1", Name: "ミステリー部", InvitationCode: "NEWCODE1"},
			Role:         model.RoleAdmin,
			MembersCount: 4,
		},
	}
	if err := r.RenderFragment(rec, http.StatusOK, "group-card", card); err != nil {
		t.Fatalf("RenderFragment() error: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{`id="group-g1"`, "NEWCODE1", "/groups/g1/delete", "メンバー 4人"} {
		if !strings.Contains(body, want) {
			t.Errorf("fragment does not contain %q", want)
		}
	}
	if strings.Contains(body, "<html") {
		t.Error("fragment must not include the layout")
	}
}

func TestStaticHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StaticHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "data-fragment") && !strings.Contains(rec.Body.String(), "dataset.fragment") {
		t.Error("app.js content is unexpected")
	}
}

func TestFuncs(t *testing.T) {
	if got := stars(3); got != "★★★☆☆" {
		t.Errorf("stars(3) = %q", got)
	}
	if got := stars(9); got != "★★★★★" {
		t.Errorf("stars(9) = %q", got)
	}
	if got := initial(" ann"); got != "A" {
		t.Errorf("initial = %q", got)
	}
	if got := initial(""); got != "?" {
		t.Errorf("initial(empty) = %q", got)
	}
	var nilTime *time.Time
	if got := formatDate(nilTime); got != "" {
		t.Errorf("formatDate(nil) = %q", got)
	}
	// JSTで日付が変わる
	if got := formatDate(time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)); got != "2026年1月2日" {
		t.Errorf("formatDate = %q", got)
	}
}
