package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/codex/internal/gate"
	"github.com/hitoshi/codex/internal/model"
)

// --- モック定義 ---

type mockSessionResolver struct {
	resolveFn func(ctx context.Context, id string) (*model.Session, bool, error)
	calls     int
}

func (m *mockSessionResolver) Resolve(ctx context.Context, id string) (*model.Session, bool, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id)
	}
	return nil, false, nil
}

type mockRedirectObserver struct {
	kinds []string
}

func (m *mockRedirectObserver) ObserveGateRedirect(kind string) {
	m.kinds = append(m.kinds, kind)
}

func validSessionResolver(refreshed bool) *mockSessionResolver {
	return &mockSessionResolver{
		resolveFn: func(ctx context.Context, id string) (*model.Session, bool, error) {
			if id != "valid-session-id" {
				return nil, false, nil
			}
			return &model.Session{
				ID:          "valid-session-id",
				UserID:      "user-123",
				AccessToken: "access-token",
				ExpiresAt:   time.Now().Add(time.Hour),
			}, refreshed, nil
		},
	}
}

func newTestGate(resolver SessionResolver, observer RedirectObserver) *SessionGate {
	return NewSessionGate(resolver, gate.NewStore(nil), CookieConfig{MaxAge: 3600}, observer)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestSessionGate_NonPublicWithoutSession_RedirectsToLanding(t *testing.T) {
	observer := &mockRedirectObserver{}
	g := newTestGate(&mockSessionResolver{}, observer)

	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/library", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}
	if len(observer.kinds) != 1 || observer.kinds[0] != "landing" {
		t.Errorf("observed = %v, want [landing]", observer.kinds)
	}
}

func TestSessionGate_POSTWithoutSession_Uses303(t *testing.T) {
	g := newTestGate(&mockSessionResolver{}, nil)

	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/groups/join", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestSessionGate_LandingWithSession_RedirectsToDashboard(t *testing.T) {
	observer := &mockRedirectObserver{}
	g := newTestGate(validSessionResolver(false), observer)

	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Location = %q, want %q", loc, "/dashboard")
	}
	if len(observer.kinds) != 1 || observer.kinds[0] != "home" {
		t.Errorf("observed = %v, want [home]", observer.kinds)
	}
}

func TestSessionGate_ValidSession_InjectsSession(t *testing.T) {
	g := newTestGate(validSessionResolver(false), nil)

	var gotSession *model.Session
	var gotUserID string
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession, _ = SessionFromContext(r.Context())
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/library", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSession == nil || gotSession.AccessToken != "access-token" {
		t.Errorf("session = %+v, want access token to be propagated", gotSession)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-123")
	}
	if c := findCookie(w.Result(), SessionCookieName); c != nil {
		t.Errorf("session cookie should not be rewritten without refresh, got %+v", c)
	}
}

func TestSessionGate_RefreshedSession_RewritesCookie(t *testing.T) {
	g := newTestGate(validSessionResolver(true), nil)

	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	c := findCookie(w.Result(), SessionCookieName)
	if c == nil {
		t.Fatal("expected refreshed session cookie")
	}
	if c.Value != "valid-session-id" || c.MaxAge != 3600 {
		t.Errorf("cookie = %+v, want renewed cookie with MaxAge 3600", c)
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = HttpOnly %v SameSite %v", c.HttpOnly, c.SameSite)
	}
}

func TestSessionGate_ResolveError_TreatedAsNoIdentity(t *testing.T) {
	resolver := &mockSessionResolver{
		resolveFn: func(ctx context.Context, id string) (*model.Session, bool, error) {
			return nil, false, errors.New("refresh failed")
		},
	}
	g := newTestGate(resolver, nil)

	called := false
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := SessionFromContext(r.Context()); ok {
			t.Error("session should not be injected after resolve error")
		}
		w.WriteHeader(http.StatusOK)
	}))

	// 公開パスは未ログインとしてそのまま表示される
	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("public path should be forwarded")
	}
	c := findCookie(w.Result(), SessionCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("stale cookie should be cleared, got %+v", c)
	}
}

func TestSessionGate_PublicPathsForwardedWithoutSession(t *testing.T) {
	paths := []string{
		"/auth/login",
		"/auth/signup",
		"/auth/auth-code-error",
		"/auth/callback",
		"/auth/forgot-password",
		"/auth/invite",
		"/auth/reset-password",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			g := newTestGate(&mockSessionResolver{}, nil)
			called := false
			handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, p, nil)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Errorf("%s should be forwarded", p)
			}
		})
	}
}

func TestSessionGate_ExcludedPathsSkipResolution(t *testing.T) {
	resolver := validSessionResolver(false)
	g := newTestGate(resolver, nil)

	called := false
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("excluded path should be forwarded")
	}
	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.calls)
	}
}

func TestSessionGate_PolicySwapAppliesImmediately(t *testing.T) {
	store := gate.NewStore(nil)
	g := NewSessionGate(&mockSessionResolver{}, store, CookieConfig{}, nil)

	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	p := gate.DefaultPolicy()
	p.PublicPaths = append(p.PublicPaths, "/discover")
	store.Swap(p)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/discover", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if !errors.Is(err, ErrNoUserID) {
		t.Errorf("err = %v, want ErrNoUserID", err)
	}
}

func TestSessionFromContext_RoundTrip(t *testing.T) {
	ctx := ContextWithSession(context.Background(), &model.Session{ID: "s", UserID: "u"})

	session, ok := SessionFromContext(ctx)
	if !ok || session.ID != "s" {
		t.Errorf("SessionFromContext = %+v, %v", session, ok)
	}
	if userID, err := UserIDFromContext(ctx); err != nil || userID != "u" {
		t.Errorf("UserIDFromContext = %q, %v", userID, err)
	}
}
