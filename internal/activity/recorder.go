// Package activity はユーザー操作の履歴記録と通知を提供する。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/repository"
)

// Publisher は操作履歴を外部に通知するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, activity *model.Activity) error
}

// Recorder は操作履歴をDBに記録し、設定されていればPublisherへ通知する。
type Recorder struct {
	repo      repository.ActivityRepository
	publisher Publisher
	now       func() time.Time
}

// NewRecorder はRecorderを生成する。publisherはnilでもよい。
func NewRecorder(repo repository.ActivityRepository, publisher Publisher) *Recorder {
	return &Recorder{repo: repo, publisher: publisher, now: time.Now}
}

// Record は操作履歴を1件記録する。
// 履歴はユーザー操作の付随情報のため、失敗してもログのみ残して操作自体は成功扱いとする。
func (r *Recorder) Record(ctx context.Context, userID string, kind model.ActivityKind, message string) {
	a := &model.Activity{
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: r.now(),
	}

	if err := r.repo.Create(ctx, a); err != nil {
		slog.Warn("操作履歴の記録に失敗しました",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, a); err != nil {
		slog.Warn("操作履歴の通知に失敗しました",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Recent はユーザーの最近の操作履歴を新しい順にn件返す。
func (r *Recorder) Recent(ctx context.Context, userID string, n int) ([]model.Activity, error) {
	activities, err := r.repo.ListRecent(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent activities: %w", err)
	}
	return activities, nil
}
