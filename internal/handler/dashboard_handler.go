package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/viewstate"
)

// DashboardServiceInterface はダッシュボードが必要とするサービスインターフェース。
type DashboardServiceInterface interface {
	Greeting(ctx context.Context, sess *model.Session) string
	Reading(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error)
	RecentActivity(ctx context.Context, sess *model.Session) ([]model.Activity, error)
}

// DiscoverServiceInterface は発見ページが必要とするサービスインターフェース。
type DiscoverServiceInterface interface {
	Latest(ctx context.Context, n int) ([]model.DiscoverItem, error)
}

// DashboardHandler はダッシュボードと発見ページのハンドラー。
type DashboardHandler struct {
	pages    *Pages
	service  DashboardServiceInterface
	discover DiscoverServiceInterface
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(pages *Pages, service DashboardServiceInterface, discover DiscoverServiceInterface) *DashboardHandler {
	return &DashboardHandler{pages: pages, service: service, discover: discover}
}

type dashboardData struct {
	Greeting string
	Reading  viewstate.State[[]model.LibraryEntry]
	Activity viewstate.State[[]model.Activity]
}

type discoverData struct {
	Items viewstate.State[[]model.DiscoverItem]
}

// Dashboard は呼びかけ、読書中の本、最近のアクティビティを表示する。
// GET /dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess == nil {
		h.pages.renderError(w, r, http.StatusUnauthorized, viewstate.Describe(viewstate.ErrNotAuthenticated))
		return
	}
	data := dashboardData{Greeting: h.service.Greeting(r.Context(), sess)}

	var ok bool
	if data.Reading, ok = fetchPage(h.pages, w, r, "dashboard.reading", h.service.Reading); !ok {
		return
	}
	if data.Activity, ok = fetchPage(h.pages, w, r, "dashboard.activity", h.service.RecentActivity); !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "dashboard", "ダッシュボード", "dashboard", data)
}

// Discover は読書ニュースの最新記事を表示する。
// GET /discover
func (h *DashboardHandler) Discover(w http.ResponseWriter, r *http.Request) {
	items, ok := fetchPage(h.pages, w, r, "discover", func(ctx context.Context, _ *model.Session) ([]model.DiscoverItem, error) {
		return h.discover.Latest(ctx, 0)
	})
	if !ok {
		return
	}
	h.pages.render(w, r, http.StatusOK, "discover", "発見", "discover", discoverData{Items: items})
}
