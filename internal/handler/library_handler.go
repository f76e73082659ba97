package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/validation"
	"github.com/hitoshi/codex/internal/viewstate"
)

// LibraryServiceInterface は本棚ハンドラーが必要とするサービスインターフェース。
type LibraryServiceInterface interface {
	List(ctx context.Context, sess *model.Session, status string) ([]model.LibraryEntry, error)
	Reviews(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error)
	Search(ctx context.Context, sess *model.Session, query string) ([]model.SearchResult, error)
	AddFromSearch(ctx context.Context, sess *model.Session, query, volumeID string) (*model.NewBook, error)
	AddManual(ctx context.Context, sess *model.Session, b model.NewBook) error
}

// libraryFilters は本棚の絞り込みタブの並び。
var libraryFilters = []model.ReadingStatus{
	model.StatusAll,
	model.StatusToRead,
	model.StatusReading,
	model.StatusFinished,
}

// LibraryHandler は本棚・本の追加・レビューのページのハンドラー。
type LibraryHandler struct {
	pages   *Pages
	service LibraryServiceInterface
}

// NewLibraryHandler はLibraryHandlerを生成する。
func NewLibraryHandler(pages *Pages, service LibraryServiceInterface) *LibraryHandler {
	return &LibraryHandler{pages: pages, service: service}
}

type libraryData struct {
	Status  model.ReadingStatus
	Filters []model.ReadingStatus
	Entries viewstate.State[[]model.LibraryEntry]
}

type addBookData struct {
	Query   string
	Results viewstate.State[[]model.SearchResult]
	Manual  validation.ManualBookForm
	Errors  map[string]string
	Message string
}

type reviewsData struct {
	Reviews viewstate.State[[]model.LibraryEntry]
}

// List は読書状態で絞り込んだ本棚を表示する。不明な状態はエラーとして表示する。
// GET /library?status=reading
func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	status, ok := model.ParseReadingStatus(raw)
	if !ok {
		status = model.StatusAll
	}

	entries, ok := fetchPage(h.pages, w, r, "library", func(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
		return h.service.List(ctx, sess, raw)
	})
	if !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "library", "本棚", "library", libraryData{
		Status:  status,
		Filters: libraryFilters,
		Entries: entries,
	})
}

// AddBookPage は書籍検索と手動追加のフォームを表示する。queryがあれば検索結果も表示する。
// GET /library/add-book?query=xxx
func (h *LibraryHandler) AddBookPage(w http.ResponseWriter, r *http.Request) {
	data := addBookData{Query: strings.TrimSpace(r.URL.Query().Get("query"))}
	if data.Query != "" {
		var ok bool
		data.Results, ok = fetchPage(h.pages, w, r, "library.search", func(ctx context.Context, sess *model.Session) ([]model.SearchResult, error) {
			return h.service.Search(ctx, sess, data.Query)
		})
		if !ok {
			return
		}
	}
	h.pages.render(w, r, http.StatusOK, "add_book", "本を追加", "library", data)
}

// AddFromSearch は検索結果から選んだ本を本棚に追加する。
// POST /library/add-book
func (h *LibraryHandler) AddFromSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.PostFormValue("query"))
	volumeID := r.PostFormValue("volume_id")

	st := h.pages.mutate(r, "library.add",
		func() map[string]string {
			if volumeID == "" || query == "" {
				return map[string]string{"volume_id": "追加する本を選択してください。"}
			}
			return nil
		},
		func() []string { return []string{volumeID} },
		func(ctx context.Context, sess *model.Session) (any, error) {
			return h.service.AddFromSearch(ctx, sess, query, volumeID)
		},
	)

	back := "/library/add-book?query=" + url.QueryEscape(query)
	if !st.Succeeded() {
		message := st.Message()
		if st.Invalid() {
			message = st.FieldErrors["volume_id"]
		}
		h.pages.redirect(w, r, back, flashError, message)
		return
	}

	title := ""
	if b, ok := viewstate.ValueAs[*model.NewBook](st); ok && b != nil {
		title = b.Title
	}
	h.pages.redirect(w, r, "/library", flashSuccess, addedMessage(title))
}

// AddManual は手動入力した本を本棚に追加する。
// POST /library/add-book/manual
func (h *LibraryHandler) AddManual(w http.ResponseWriter, r *http.Request) {
	form := validation.ManualBookForm{
		Title:         r.PostFormValue("title"),
		Author:        r.PostFormValue("author"),
		Description:   r.PostFormValue("description"),
		CoverURL:      r.PostFormValue("cover_url"),
		PageCount:     r.PostFormValue("page_count"),
		Genre:         r.PostFormValue("genre"),
		ISBN:          r.PostFormValue("isbn"),
		PublishedDate: r.PostFormValue("published_date"),
		Publisher:     r.PostFormValue("publisher"),
	}

	st := h.pages.mutate(r, "library.manual",
		func() map[string]string { return form.Validate() },
		func() []string {
			return []string{form.Title, form.Author, form.Description, form.CoverURL, form.PageCount,
				form.Genre, form.ISBN, form.PublishedDate, form.Publisher}
		},
		func(ctx context.Context, sess *model.Session) (any, error) {
			return nil, h.service.AddManual(ctx, sess, form.Book())
		},
	)
	if st.Succeeded() {
		h.pages.redirect(w, r, "/library", flashSuccess, addedMessage(form.Title))
		return
	}
	h.pages.render(w, r, failureStatus(st), "add_book", "本を追加", "library", addBookData{
		Manual:  form,
		Errors:  st.FieldErrors,
		Message: st.Message(),
	})
}

// Reviews は評価をつけた読了本を表示する。
// GET /reviews
func (h *LibraryHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	reviews, ok := fetchPage(h.pages, w, r, "reviews", h.service.Reviews)
	if !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "reviews", "レビュー", "library", reviewsData{Reviews: reviews})
}

func addedMessage(title string) string {
	if title == "" {
		return "本棚に追加しました。"
	}
	return fmt.Sprintf("「%s」を本棚に追加しました。", title)
}
