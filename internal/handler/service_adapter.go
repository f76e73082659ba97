package handler

import (
	"context"

	"github.com/hitoshi/codex/internal/activity"
	"github.com/hitoshi/codex/internal/library"
	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/profile"
)

// recentActivityLimit はダッシュボードに表示する最近のアクティビティの件数。
const recentActivityLimit = 10

// DashboardServiceAdapter は profile.Service, library.Service, activity.Recorder を
// DashboardServiceInterface に適合させるアダプタ。
type DashboardServiceAdapter struct {
	profiles *profile.Service
	library  *library.Service
	activity *activity.Recorder
}

// NewDashboardServiceAdapter はDashboardServiceAdapterを生成する。
func NewDashboardServiceAdapter(profiles *profile.Service, lib *library.Service, recorder *activity.Recorder) *DashboardServiceAdapter {
	return &DashboardServiceAdapter{profiles: profiles, library: lib, activity: recorder}
}

// Greeting はダッシュボードの呼びかけに使う名前を返す。
func (a *DashboardServiceAdapter) Greeting(ctx context.Context, sess *model.Session) string {
	return a.profiles.Greeting(ctx, sess)
}

// Reading は読書中の本を返す。
func (a *DashboardServiceAdapter) Reading(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
	return a.library.Reading(ctx, sess)
}

// RecentActivity はユーザーの最近の操作履歴を返す。
func (a *DashboardServiceAdapter) RecentActivity(ctx context.Context, sess *model.Session) ([]model.Activity, error) {
	return a.activity.Recent(ctx, sess.UserID, recentActivityLimit)
}
