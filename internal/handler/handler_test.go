package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codex/internal/auth"
	"github.com/hitoshi/codex/internal/group"
	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/profile"
	"github.com/hitoshi/codex/internal/view"
)

const testFlashSecret = "test-flash-secret"

// --- compile-time interface checks ---
// グループサービスは招待の受け付けにも使うため、両方のインターフェースを満たす
var _ GroupServiceInterface = (*group.Service)(nil)
var _ GroupServiceInterface = (*mockGroupService)(nil)
var _ InvitationAccepter = GroupServiceInterface(nil)

// --- モック定義 ---

type mockAuthService struct {
	signInFn               func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFn               func(ctx context.Context, email, password, username string) (*model.Session, error)
	googleLoginURLFn       func(next string) (*auth.OAuthStart, error)
	completeOAuthFn        func(ctx context.Context, code, verifier string) (*model.Session, error)
	requestPasswordResetFn func(ctx context.Context, email string) error
	resetPasswordFn        func(ctx context.Context, session *model.Session, password string) error
	signOutFn              func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.Session{ID: "new-session"}, nil
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password, username string) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, username)
	}
	return nil, nil
}

func (m *mockAuthService) GoogleLoginURL(next string) (*auth.OAuthStart, error) {
	if m.googleLoginURLFn != nil {
		return m.googleLoginURLFn(next)
	}
	return &auth.OAuthStart{URL: "https://auth.example.com/authorize", Verifier: "verifier"}, nil
}

func (m *mockAuthService) CompleteOAuth(ctx context.Context, code, verifier string) (*model.Session, error) {
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, code, verifier)
	}
	return &model.Session{ID: "oauth-session"}, nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, session *model.Session, password string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, session, password)
	}
	return nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

type mockUsernameChecker struct {
	availableFn func(ctx context.Context, username, excludeID string) (bool, error)
}

func (m *mockUsernameChecker) UsernameAvailable(ctx context.Context, username, excludeID string) (bool, error) {
	if m.availableFn != nil {
		return m.availableFn(ctx, username, excludeID)
	}
	return true, nil
}

// mockCookieWriter はSessionCookieWriterのモック。発行・削除の呼び出しを記録する。
type mockCookieWriter struct {
	set     []string
	cleared bool
}

func (m *mockCookieWriter) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	m.set = append(m.set, sessionID)
}

func (m *mockCookieWriter) ClearSessionCookie(w http.ResponseWriter) {
	m.cleared = true
}

type mockGroupService struct {
	listMineFn         func(ctx context.Context, sess *model.Session) ([]model.Membership, error)
	adminGroupsFn      func(ctx context.Context, sess *model.Session) ([]model.Group, error)
	getFn              func(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error)
	getAdministeredFn  func(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error)
	createFn           func(ctx context.Context, sess *model.Session, in model.GroupInput) (*model.Group, error)
	updateFn           func(ctx context.Context, sess *model.Session, groupID string, in model.GroupInput) error
	deleteFn           func(ctx context.Context, sess *model.Session, groupID string) error
	regenerateCodeFn   func(ctx context.Context, sess *model.Session, groupID string) (string, error)
	leaveFn            func(ctx context.Context, sess *model.Session, groupID string) error
	joinFn             func(ctx context.Context, sess *model.Session, code string) error
	inviteFn           func(ctx context.Context, sess *model.Session, groupID string, emails []string) error
	acceptInvitationFn func(ctx context.Context, sess *model.Session, token, groupID string) (*model.Group, error)
	uploadAvatarFn     func(ctx context.Context, sess *model.Session, contentType string, data []byte) (string, error)
}

func (m *mockGroupService) ListMine(ctx context.Context, sess *model.Session) ([]model.Membership, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockGroupService) AdminGroups(ctx context.Context, sess *model.Session) ([]model.Group, error) {
	if m.adminGroupsFn != nil {
		return m.adminGroupsFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockGroupService) Get(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error) {
	if m.getFn != nil {
		return m.getFn(ctx, sess, groupID)
	}
	return nil, model.NewGroupNotFoundError(groupID)
}

func (m *mockGroupService) GetAdministered(ctx context.Context, sess *model.Session, groupID string) (*model.Membership, error) {
	if m.getAdministeredFn != nil {
		return m.getAdministeredFn(ctx, sess, groupID)
	}
	return nil, model.NewGroupNotFoundError(groupID)
}

func (m *mockGroupService) Create(ctx context.Context, sess *model.Session, in model.GroupInput) (*model.Group, error) {
	if m.createFn != nil {
		return m.createFn(ctx, sess, in)
	}
	return &model.Group{ID: "g-new", Name: in.Name}, nil
}

func (m *mockGroupService) Update(ctx context.Context, sess *model.Session, groupID string, in model.GroupInput) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, sess, groupID, in)
	}
	return nil
}

func (m *mockGroupService) Delete(ctx context.Context, sess *model.Session, groupID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, sess, groupID)
	}
	return nil
}

func (m *mockGroupService) RegenerateCode(ctx context.Context, sess *model.Session, groupID string) (string, error) {
	if m.regenerateCodeFn != nil {
		return m.regenerateCodeFn(ctx, sess, groupID)
	}
	return "NEWCODE1", nil
}

func (m *mockGroupService) Leave(ctx context.Context, sess *model.Session, groupID string) error {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, sess, groupID)
	}
	return nil
}

func (m *mockGroupService) Join(ctx context.Context, sess *model.Session, code string) error {
	if m.joinFn != nil {
		return m.joinFn(ctx, sess, code)
	}
	return nil
}

func (m *mockGroupService) Invite(ctx context.Context, sess *model.Session, groupID string, emails []string) error {
	if m.inviteFn != nil {
		return m.inviteFn(ctx, sess, groupID, emails)
	}
	return nil
}

func (m *mockGroupService) AcceptInvitation(ctx context.Context, sess *model.Session, token, groupID string) (*model.Group, error) {
	if m.acceptInvitationFn != nil {
		return m.acceptInvitationFn(ctx, sess, token, groupID)
	}
	return &model.Group{ID: groupID}, nil
}

func (m *mockGroupService) UploadAvatar(ctx context.Context, sess *model.Session, contentType string, data []byte) (string, error) {
	if m.uploadAvatarFn != nil {
		return m.uploadAvatarFn(ctx, sess, contentType, data)
	}
	return "https://storage.example.com/group-avatars/a.png", nil
}

type mockLibraryService struct {
	listFn          func(ctx context.Context, sess *model.Session, status string) ([]model.LibraryEntry, error)
	reviewsFn       func(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error)
	searchFn        func(ctx context.Context, sess *model.Session, query string) ([]model.SearchResult, error)
	addFromSearchFn func(ctx context.Context, sess *model.Session, query, volumeID string) (*model.NewBook, error)
	addManualFn     func(ctx context.Context, sess *model.Session, b model.NewBook) error
}

func (m *mockLibraryService) List(ctx context.Context, sess *model.Session, status string) ([]model.LibraryEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, sess, status)
	}
	return nil, nil
}

func (m *mockLibraryService) Reviews(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
	if m.reviewsFn != nil {
		return m.reviewsFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockLibraryService) Search(ctx context.Context, sess *model.Session, query string) ([]model.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, sess, query)
	}
	return nil, nil
}

func (m *mockLibraryService) AddFromSearch(ctx context.Context, sess *model.Session, query, volumeID string) (*model.NewBook, error) {
	if m.addFromSearchFn != nil {
		return m.addFromSearchFn(ctx, sess, query, volumeID)
	}
	return &model.NewBook{}, nil
}

func (m *mockLibraryService) AddManual(ctx context.Context, sess *model.Session, b model.NewBook) error {
	if m.addManualFn != nil {
		return m.addManualFn(ctx, sess, b)
	}
	return nil
}

type mockProfileService struct {
	overviewFn     func(ctx context.Context, sess *model.Session, period model.ActivityPeriod) (*profile.Overview, error)
	updateFn       func(ctx context.Context, sess *model.Session, update model.ProfileUpdate) error
	uploadAvatarFn func(ctx context.Context, sess *model.Session, r io.Reader) (string, error)
}

func (m *mockProfileService) Overview(ctx context.Context, sess *model.Session, period model.ActivityPeriod) (*profile.Overview, error) {
	if m.overviewFn != nil {
		return m.overviewFn(ctx, sess, period)
	}
	return &profile.Overview{Profile: model.Profile{ID: sess.UserID, Username: "hanako"}, Period: period}, nil
}

func (m *mockProfileService) Update(ctx context.Context, sess *model.Session, update model.ProfileUpdate) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, sess, update)
	}
	return nil
}

func (m *mockProfileService) UploadAvatar(ctx context.Context, sess *model.Session, r io.Reader) (string, error) {
	if m.uploadAvatarFn != nil {
		return m.uploadAvatarFn(ctx, sess, r)
	}
	return "https://storage.example.com/avatars/u.png", nil
}

type mockDashboardService struct {
	greetingFn       func(ctx context.Context, sess *model.Session) string
	readingFn        func(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error)
	recentActivityFn func(ctx context.Context, sess *model.Session) ([]model.Activity, error)
}

func (m *mockDashboardService) Greeting(ctx context.Context, sess *model.Session) string {
	if m.greetingFn != nil {
		return m.greetingFn(ctx, sess)
	}
	return "読書家"
}

func (m *mockDashboardService) Reading(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
	if m.readingFn != nil {
		return m.readingFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockDashboardService) RecentActivity(ctx context.Context, sess *model.Session) ([]model.Activity, error) {
	if m.recentActivityFn != nil {
		return m.recentActivityFn(ctx, sess)
	}
	return nil, nil
}

type mockDiscoverService struct {
	latestFn func(ctx context.Context, n int) ([]model.DiscoverItem, error)
}

func (m *mockDiscoverService) Latest(ctx context.Context, n int) ([]model.DiscoverItem, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, n)
	}
	return nil, nil
}

// --- ヘルパー ---

var testSession = &model.Session{
	ID:          "session-1",
	UserID:      "user-1",
	Email:       "hanako@example.com",
	AccessToken: "access-token",
	ExpiresAt:   time.Now().Add(time.Hour),
}

func newTestPages(t *testing.T) *Pages {
	t.Helper()
	renderer, err := view.New()
	if err != nil {
		t.Fatalf("view.New() error: %v", err)
	}
	return NewPages(renderer, NewFlashStore(testFlashSecret, false))
}

// withSession はゲートが解決したセッションをリクエストに設定する。
func withSession(r *http.Request) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), testSession))
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newFormRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// newMultipartRequest はフォーム値と任意のファイルを含むmultipartリクエストを作成する。
func newMultipartRequest(t *testing.T, path string, fields map[string]string, fileField, contentType string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="upload"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(file)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// flashOf はレスポンスに設定された通知Cookieを読み出す。
func flashOf(t *testing.T, resp *http.Response) *view.Flash {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range resp.Cookies() {
		if c.Name == flashCookieName {
			req.AddCookie(c)
		}
	}
	return NewFlashStore(testFlashSecret, false).Pop(httptest.NewRecorder(), req)
}

func toastOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	msg, err := url.PathUnescape(resp.Header.Get("X-Toast"))
	if err != nil {
		t.Fatalf("X-Toast is not escaped: %v", err)
	}
	return msg
}

func containsStr(s, substr string) bool {
	return strings.Contains(s, substr)
}
