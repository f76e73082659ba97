package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codex/internal/gate"
	"github.com/hitoshi/codex/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストキーの型。
type contextKey string

const (
	userIDContextKey  contextKey = "user_id"
	sessionContextKey contextKey = "session"
)

// ErrNoUserID はコンテキストにユーザーIDが存在しない場合のエラー。
var ErrNoUserID = errors.New("user ID not found in context")

// SessionResolver はセッションIDから有効なセッションを解決するインターフェース。
// 2番目の戻り値はトークンがリフレッシュされたかを表す。
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*model.Session, bool, error)
}

// RedirectObserver はゲートのリダイレクトを記録するインターフェース。
type RedirectObserver interface {
	ObserveGateRedirect(kind string)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// SessionGate はリクエストごとにセッションを1回だけ解決し、
// アクセス方針に従って転送またはリダイレクトするミドルウェア。
type SessionGate struct {
	resolver SessionResolver
	policies *gate.Store
	cookie   CookieConfig
	observer RedirectObserver
}

// NewSessionGate はSessionGateを生成する。observerはnilでもよい。
func NewSessionGate(resolver SessionResolver, policies *gate.Store, cookie CookieConfig, observer RedirectObserver) *SessionGate {
	return &SessionGate{
		resolver: resolver,
		policies: policies,
		cookie:   cookie,
		observer: observer,
	}
}

// Middleware はゲートのミドルウェア関数を返す。
func (g *SessionGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := g.policies.Load()
		if policy.IsExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// 1. セッションを解決する。失敗は未ログインとして扱う
		session, refreshed := g.resolve(w, r)

		// 2. アクセス方針で判定する
		decision := policy.Decide(r.URL.Path, session != nil)
		if decision.Action != gate.Forward {
			if g.observer != nil {
				g.observer.ObserveGateRedirect(decision.Action.String())
			}
			if refreshed {
				g.setSessionCookie(w, session.ID)
			}
			http.Redirect(w, r, decision.Location, redirectStatus(r))
			return
		}

		// 3. リフレッシュされたセッションはCookieを更新してから転送する
		if refreshed {
			g.setSessionCookie(w, session.ID)
		}
		if session != nil {
			noteUserID(r.Context(), session.UserID)
			r = r.WithContext(ContextWithSession(r.Context(), session))
		}
		next.ServeHTTP(w, r)
	})
}

// resolve はCookieからセッションを解決する。
// 解決に失敗した場合は古いCookieを削除し、nilを返す。
func (g *SessionGate) resolve(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	session, refreshed, err := g.resolver.Resolve(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to resolve session",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		g.clearSessionCookie(w)
		return nil, false
	}
	if session == nil {
		g.clearSessionCookie(w)
		return nil, false
	}
	return session, refreshed
}

// SetSessionCookie はセッションCookieを発行する。ログイン処理からも使う。
func (g *SessionGate) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	g.setSessionCookie(w, sessionID)
}

// ClearSessionCookie はセッションCookieを削除する。
func (g *SessionGate) ClearSessionCookie(w http.ResponseWriter) {
	g.clearSessionCookie(w)
}

func (g *SessionGate) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   g.cookie.Domain,
		MaxAge:   g.cookie.MaxAge,
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (g *SessionGate) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   g.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectStatus はGETには302、それ以外には303を返す。
// 303によりフォーム送信後のリダイレクト先はGETで取得される。
func redirectStatus(r *http.Request) int {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

// ContextWithSession はセッションとユーザーIDをコンテキストに設定する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return ContextWithUserID(ctx, session.UserID)
}

// SessionFromContext はコンテキストからセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil {
		return nil, false
	}
	return session, true
}

// UserIDFromContext はコンテキストからユーザーIDを取得する。
// ユーザーIDが存在しない場合はエラーを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserID
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを設定する。
// テストやミドルウェアチェーンでの利用を想定。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
