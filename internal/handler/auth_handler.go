package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/codex/internal/auth"
	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/validation"
	"github.com/hitoshi/codex/internal/viewstate"
)

const (
	pkceVerifierCookie = "pkce_verifier"
	pkceCookieMaxAge   = 600 // 10分

	homePath = "/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, username string) (*model.Session, error)
	GoogleLoginURL(next string) (*auth.OAuthStart, error)
	CompleteOAuth(ctx context.Context, code, verifier string) (*model.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, session *model.Session, password string) error
	SignOut(ctx context.Context, sessionID string) error
}

// UsernameChecker はユーザー名の利用可否を判定する。
type UsernameChecker interface {
	UsernameAvailable(ctx context.Context, username, excludeID string) (bool, error)
}

// InvitationAccepter はメール招待を受諾する。
type InvitationAccepter interface {
	AcceptInvitation(ctx context.Context, sess *model.Session, token, groupID string) (*model.Group, error)
}

// SessionCookieWriter はセッションCookieを発行・削除する。SessionGateが実装する。
type SessionCookieWriter interface {
	SetSessionCookie(w http.ResponseWriter, sessionID string)
	ClearSessionCookie(w http.ResponseWriter)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はログイン・新規登録・パスワード再設定などの認証ページのハンドラー。
type AuthHandler struct {
	pages       *Pages
	service     AuthServiceInterface
	usernames   UsernameChecker
	invitations InvitationAccepter
	cookies     SessionCookieWriter
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(pages *Pages, service AuthServiceInterface, usernames UsernameChecker, invitations InvitationAccepter, cookies SessionCookieWriter, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		pages:       pages,
		service:     service,
		usernames:   usernames,
		invitations: invitations,
		cookies:     cookies,
		config:      config,
	}
}

type loginData struct {
	Email      string
	RedirectTo string
	Errors     map[string]string
	Message    string
}

type signupData struct {
	Username string
	Email    string
	Errors   map[string]string
	Message  string
}

type signupDoneData struct {
	Email string
}

type forgotPasswordData struct {
	Email   string
	Sent    bool
	Errors  map[string]string
	Message string
}

type resetPasswordData struct {
	Errors  map[string]string
	Message string
}

// Landing はトップページを表示する。ログイン済みの場合はゲートがダッシュボードへ転送する。
// GET /
func (h *AuthHandler) Landing(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "landing", "", "", nil)
}

// LoginPage はログインフォームを表示する。
// GET /auth/login?redirectTo=/groups
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "login", "ログイン", "", loginData{
		RedirectTo: localRedirect(r.URL.Query().Get("redirectTo"), ""),
	})
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	form := validation.LoginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	data := loginData{
		RedirectTo: localRedirect(r.PostFormValue("redirectTo"), ""),
	}

	// 1. 入力検証
	if errs := form.Validate(); errs.HasErrors() {
		data.Email, data.Errors = form.Email, errs
		h.pages.render(w, r, http.StatusUnprocessableEntity, "login", "ログイン", "", data)
		return
	}

	// 2. ログイン
	session, err := h.service.SignIn(r.Context(), form.Email, form.Password)
	if err != nil {
		logUnexpected("sign in failed", err)
		data.Email, data.Message = form.Email, viewstate.Describe(err)
		h.pages.render(w, r, errorStatus(err), "login", "ログイン", "", data)
		return
	}

	// 3. セッションCookieを設定して遷移
	h.cookies.SetSessionCookie(w, session.ID)
	h.pages.redirect(w, r, localRedirect(data.RedirectTo, homePath), flashSuccess, "ログインしました。")
}

// GoogleLogin はGoogleログインのPKCEフローを開始する。
// GET /auth/login/google?redirectTo=/groups
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.service.GoogleLoginURL(localRedirect(r.URL.Query().Get("redirectTo"), ""))
	if err != nil {
		slog.Error("failed to start oauth", slog.String("error", err.Error()))
		h.pages.renderError(w, r, http.StatusInternalServerError, viewstate.Describe(err))
		return
	}

	// 検証子はコールバックまでCookieに保持する
	http.SetCookie(w, &http.Cookie{
		Name:     pkceVerifierCookie,
		Value:    start.Verifier,
		Path:     "/auth",
		MaxAge:   pkceCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, start.URL, http.StatusTemporaryRedirect)
}

// Callback は認可コードをセッションに交換する。失敗した場合はエラーページへ遷移する。
// GET /auth/callback?code=xxx&next=/dashboard
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. 検証子のCookieを取り出して削除
	verifier := ""
	if c, err := r.Cookie(pkceVerifierCookie); err == nil {
		verifier = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     pkceVerifierCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. IDプロバイダーがエラーを返した場合
	if q.Get("error") != "" || q.Get("code") == "" {
		slog.Warn("oauth callback without code",
			slog.String("error", q.Get("error")),
			slog.String("error_description", q.Get("error_description")),
		)
		http.Redirect(w, r, "/auth/auth-code-error", http.StatusFound)
		return
	}

	// 3. コードを交換してセッションを発行
	session, err := h.service.CompleteOAuth(r.Context(), q.Get("code"), verifier)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/auth/auth-code-error", http.StatusFound)
		return
	}

	h.cookies.SetSessionCookie(w, session.ID)
	http.Redirect(w, r, localRedirect(q.Get("next"), homePath), http.StatusFound)
}

// AuthCodeError は認証コードの交換に失敗した場合のページを表示する。
// GET /auth/auth-code-error
func (h *AuthHandler) AuthCodeError(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "auth_error", "認証エラー", "", nil)
}

// SignupPage は新規登録フォームを表示する。
// GET /auth/signup
func (h *AuthHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "signup", "新規登録", "", signupData{})
}

// Signup は新規登録を行う。メール確認が必要な場合は確認待ちのページを表示する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	form := validation.SignupForm{
		Username:        r.PostFormValue("username"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	// 1. 入力検証
	errs := form.Validate()
	data := signupData{Username: form.Username, Email: form.Email, Errors: errs}
	if errs.HasErrors() {
		h.pages.render(w, r, http.StatusUnprocessableEntity, "signup", "新規登録", "", data)
		return
	}

	// 2. ユーザー名の重複確認
	available, err := h.usernames.UsernameAvailable(r.Context(), form.Username, "")
	if err != nil {
		logUnexpected("failed to check username", err)
		data.Message = viewstate.Describe(err)
		h.pages.render(w, r, errorStatus(err), "signup", "新規登録", "", data)
		return
	}
	if !available {
		errs.Add("username", "このユーザー名は既に使われています。")
		h.pages.render(w, r, http.StatusConflict, "signup", "新規登録", "", data)
		return
	}

	// 3. 登録
	session, err := h.service.SignUp(r.Context(), form.Email, form.Password, form.Username)
	if err != nil {
		logUnexpected("sign up failed", err)
		data.Message = viewstate.Describe(err)
		h.pages.render(w, r, errorStatus(err), "signup", "新規登録", "", data)
		return
	}
	if session == nil {
		h.pages.render(w, r, http.StatusOK, "signup_done", "確認メールを送信しました", "", signupDoneData{Email: form.Email})
		return
	}

	h.cookies.SetSessionCookie(w, session.ID)
	h.pages.redirect(w, r, homePath, flashSuccess, "登録が完了しました。ようこそ！")
}

// CheckUsername はユーザー名が利用可能かをJSONで返す。
// GET /auth/signup/check-username?username=xxx
func (h *AuthHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	name := validation.Normalize(r.URL.Query().Get("username"))
	if validation.Length(name) < validation.MinUsernameLength {
		writeJSON(w, http.StatusOK, map[string]bool{"available": false})
		return
	}

	excludeID := ""
	if sess := sessionFrom(r); sess != nil {
		excludeID = sess.UserID
	}
	available, err := h.usernames.UsernameAvailable(r.Context(), name, excludeID)
	if err != nil {
		slog.Error("failed to check username", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// ForgotPasswordPage はパスワード再設定メールの送信フォームを表示する。
// GET /auth/forgot-password
func (h *AuthHandler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "forgot_password", "パスワードの再設定", "", forgotPasswordData{})
}

// ForgotPassword はパスワード再設定メールを送信する。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	form := validation.ForgotPasswordForm{Email: r.PostFormValue("email")}
	errs := form.Validate()
	data := forgotPasswordData{Email: form.Email, Errors: errs}
	if errs.HasErrors() {
		h.pages.render(w, r, http.StatusUnprocessableEntity, "forgot_password", "パスワードの再設定", "", data)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), form.Email); err != nil {
		logUnexpected("password reset request failed", err)
		data.Message = viewstate.Describe(err)
		h.pages.render(w, r, errorStatus(err), "forgot_password", "パスワードの再設定", "", data)
		return
	}
	data.Sent = true
	h.pages.render(w, r, http.StatusOK, "forgot_password", "パスワードの再設定", "", data)
}

// ResetPasswordPage は新しいパスワードの入力フォームを表示する。
// 再設定リンク経由のセッションがない場合は再設定メールの送信ページへ戻す。
// GET /auth/reset-password
func (h *AuthHandler) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r) == nil {
		h.pages.redirect(w, r, "/auth/forgot-password", flashError, "再設定リンクの有効期限が切れています。もう一度お試しください。")
		return
	}
	h.pages.render(w, r, http.StatusOK, "reset_password", "新しいパスワードの設定", "", resetPasswordData{})
}

// ResetPassword はパスワードを更新する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	form := validation.ResetPasswordForm{
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	// 1. 入力検証（セッションの有無に関わらず通信前に行う）
	if errs := form.Validate(); errs.HasErrors() {
		h.pages.render(w, r, http.StatusUnprocessableEntity, "reset_password", "新しいパスワードの設定", "", resetPasswordData{Errors: errs})
		return
	}

	// 2. 再設定リンク経由のセッションが必要
	session := sessionFrom(r)
	if session == nil {
		h.pages.redirect(w, r, "/auth/forgot-password", flashError, "再設定リンクの有効期限が切れています。もう一度お試しください。")
		return
	}

	// 3. 更新
	if err := h.service.ResetPassword(r.Context(), session, form.Password); err != nil {
		logUnexpected("password reset failed", err)
		h.pages.render(w, r, errorStatus(err), "reset_password", "新しいパスワードの設定", "", resetPasswordData{
			Message: viewstate.Describe(err),
		})
		return
	}
	h.pages.redirect(w, r, homePath, flashSuccess, "パスワードを更新しました。")
}

// Invite はメール招待を受諾してグループ一覧へ遷移する。
// 未ログインの場合はログイン後にこのURLへ戻るようログインページへ転送する。
// GET /auth/invite?token=xxx&groupId=yyy
func (h *AuthHandler) Invite(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if session == nil {
		http.Redirect(w, r, "/auth/login?redirectTo="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}

	q := r.URL.Query()
	group, err := h.invitations.AcceptInvitation(r.Context(), session, q.Get("token"), q.Get("groupId"))
	if err != nil {
		logUnexpected("failed to accept invitation", err)
		h.pages.redirect(w, r, "/groups", flashError, viewstate.Describe(err))
		return
	}

	message := "グループに参加しました。"
	if group != nil && group.Name != "" {
		message = "グループ「" + group.Name + "」に参加しました。"
	}
	h.pages.redirect(w, r, "/groups", flashSuccess, message)
}

// Logout はセッションを破棄してトップページへ遷移する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.SignOut(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウトに失敗してもCookieはクリアする
		}
	}

	h.cookies.ClearSessionCookie(w)
	h.pages.redirect(w, r, "/", flashSuccess, "ログアウトしました。")
}

// errorStatus はエラーからページのHTTPステータスを決める。
func errorStatus(err error) int {
	return failureStatus(viewstate.MutateState{Status: viewstate.Error, Err: err})
}

// logUnexpected はAPIError以外のエラーだけをログに残す。
func logUnexpected(msg string, err error) {
	if !viewstate.IsAPIError(err) {
		slog.Error(msg, slog.String("error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
