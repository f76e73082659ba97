// Package handler はページとJSONエンドポイントのHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/view"
	"github.com/hitoshi/codex/internal/viewstate"
)

const (
	flashSuccess = "success"
	flashError   = "error"

	// fragmentHeader はapp.jsがHTMLフラグメントを要求する際に付けるヘッダー。
	fragmentHeader = "X-Fragment"
)

// Pages はページハンドラーが共有する描画・取得・更新の仕組み。
type Pages struct {
	view      *view.Renderer
	flash     *FlashStore
	fetches   *viewstate.Coordinator
	mutations *viewstate.Mutator
}

// NewPages はPagesを生成する。
func NewPages(renderer *view.Renderer, flash *FlashStore) *Pages {
	return &Pages{
		view:      renderer,
		flash:     flash,
		fetches:   viewstate.NewCoordinator(),
		mutations: viewstate.NewMutator(),
	}
}

// page はレイアウトに渡す共通データを組み立てる。表示待ちの通知があれば取り出す。
func (p *Pages) page(w http.ResponseWriter, r *http.Request, title, nav string, data any) *view.Page {
	_, signedIn := middleware.SessionFromContext(r.Context())
	return &view.Page{
		Title:     title,
		Nav:       nav,
		CSRFToken: middleware.CSRFToken(r),
		SignedIn:  signedIn,
		Flash:     p.flash.Pop(w, r),
		Data:      data,
	}
}

// render はページを描画する。描画に失敗した場合は500を返す。
func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name, title, nav string, data any) {
	page := p.page(w, r, title, nav, data)
	if err := p.view.Render(w, status, name, page); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// renderWithFlash は通知付きでページを描画する。フォームの入力を保ったまま失敗を知らせる場合に使う。
func (p *Pages) renderWithFlash(w http.ResponseWriter, r *http.Request, status int, name, title, nav string, data any, kind, message string) {
	page := p.page(w, r, title, nav, data)
	if message != "" {
		page.Flash = &view.Flash{Kind: kind, Message: message}
	}
	if err := p.view.Render(w, status, name, page); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// renderError はエラーページを描画する。
func (p *Pages) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	p.render(w, r, status, "error", "エラー", "", errorData{Status: status, Message: message})
}

// redirect は通知を設定してリダイレクトする。POSTの後は303で遷移する。
func (p *Pages) redirect(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if message != "" {
		p.flash.Set(w, kind, message)
	}
	status := http.StatusFound
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	http.Redirect(w, r, location, status)
}

// mutate は検証を通った送信を1回だけ書き込む。
// partsは検証の後に呼ばれ、正規化済みの入力を返す。同じ利用者が同じ操作を同じ入力で
// 同時に送信した場合だけ1回の書き込みにまとめる。
// APIError以外の失敗はログに残し、利用者には一般的なメッセージを表示する。
func (p *Pages) mutate(r *http.Request, action string, validate func() map[string]string, parts func() []string, do viewstate.Mutation) viewstate.MutateState {
	sessionID := ""
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		sessionID = sess.ID
	}
	key := func() string {
		if parts == nil {
			return viewstate.MutationKey(sessionID, action)
		}
		return viewstate.MutationKey(sessionID, action, parts()...)
	}
	st := p.mutations.Submit(r.Context(), validate, key, do)
	if st.Err != nil && !viewstate.IsAPIError(st.Err) {
		slog.Error("mutation failed",
			slog.String("action", action),
			slog.String("error", st.Err.Error()),
		)
	}
	return st
}

// supersededMessage は新しい読み込みに置き換えられた要求に返すメッセージ。
const supersededMessage = "新しい読み込みが始まったため、この表示を中断しました。ページを再読み込みしてください。"

// fetchPage はページのデータを取得する。同じ利用者が同じページを再取得した場合は古い取得を中断する。
// 中断された要求には再読み込みを促す応答を書き込んでfalseを返す。呼び出し側はそのまま終了する。
func fetchPage[T any](p *Pages, w http.ResponseWriter, r *http.Request, key string, query viewstate.Query[T]) (viewstate.State[T], bool) {
	ctx := r.Context()
	if sess, ok := middleware.SessionFromContext(ctx); ok {
		var done func()
		ctx, done = p.fetches.Begin(ctx, viewstate.FetchKey(sess.ID, key))
		defer done()
	}

	st := viewstate.Fetch(ctx, query)
	if st.Superseded() {
		slog.Info("page fetch superseded", slog.String("page", key))
		p.renderSuperseded(w, r)
		return st, false
	}
	if st.Failed() && !viewstate.IsAPIError(st.Err) {
		slog.Error("failed to fetch page data",
			slog.String("page", key),
			slog.String("error", st.Err.Error()),
		)
	}
	return st, true
}

// renderSuperseded は中断された要求に409を返す。表示待ちの通知は新しい要求に残すため取り出さない。
func (p *Pages) renderSuperseded(w http.ResponseWriter, r *http.Request) {
	if isFragment(r) {
		writeToast(w, flashError, supersededMessage)
		w.WriteHeader(http.StatusConflict)
		return
	}
	_, signedIn := middleware.SessionFromContext(r.Context())
	page := &view.Page{
		Title:     "エラー",
		CSRFToken: middleware.CSRFToken(r),
		SignedIn:  signedIn,
		Data:      errorData{Status: http.StatusConflict, Message: supersededMessage},
	}
	if err := p.view.Render(w, http.StatusConflict, "error", page); err != nil {
		slog.Error("failed to render page",
			slog.String("page", "error"),
			slog.String("error", err.Error()),
		)
		http.Error(w, supersededMessage, http.StatusConflict)
	}
}

// isFragment はapp.jsからのフラグメント要求かを判定する。
func isFragment(r *http.Request) bool {
	return r.Header.Get(fragmentHeader) == "1"
}

// writeToast はフラグメント応答に通知を付ける。app.jsがヘッダーを読んで表示する。
func writeToast(w http.ResponseWriter, kind, message string) {
	w.Header().Set("X-Toast-Kind", kind)
	w.Header().Set("X-Toast", url.PathEscape(message))
}

// failureStatus は更新失敗時にフォームを再表示する際のHTTPステータスを返す。
func failureStatus(st viewstate.MutateState) int {
	if st.Invalid() {
		return http.StatusUnprocessableEntity
	}
	var apiErr *model.APIError
	if errors.As(st.Err, &apiErr) {
		return mapAPIErrorToHTTPStatus(apiErr)
	}
	return http.StatusInternalServerError
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthenticated, model.ErrCodeSessionExpired, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeNotGroupAdmin:
		return http.StatusForbidden
	case model.ErrCodeGroupNotFound, model.ErrCodeProfileNotFound, model.ErrCodeBookNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidImage, model.ErrCodeInvalidInvitation,
		model.ErrCodeInvalidStatusFilter:
		return http.StatusBadRequest
	case model.ErrCodeUpstream:
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// localRedirect はログイン後の遷移先として安全なパスだけを返す。外部URLや不正な値はfallback。
func localRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return target
}

// sessionFrom はゲートが注入したセッションを返す。
func sessionFrom(r *http.Request) *model.Session {
	sess, _ := middleware.SessionFromContext(r.Context())
	return sess
}

type errorData struct {
	Status  int
	Message string
}
