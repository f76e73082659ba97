// Package cleanup は保持期間を過ぎたデータの日次削除ジョブを提供する。
// 期限切れのセッション、古い発見記事、古い操作履歴を削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/codex/internal/repository"
)

// Interval はジョブの実行間隔。
const Interval = 24 * time.Hour

// CleanupJob は保持期間を超過したデータの削除ジョブ。
// 削除対象がなくてもエラーにならず、何度実行しても結果は同じ。
type CleanupJob struct {
	repo   repository.CleanupRepository
	logger *slog.Logger
	now    func() time.Time

	DiscoverRetentionDays int // 発見記事の保持日数（デフォルト: 30）
	ActivityRetentionDays int // 操作履歴の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo repository.CleanupRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:                  repo,
		logger:                logger,
		now:                   time.Now,
		DiscoverRetentionDays: 30,
		ActivityRetentionDays: 90,
	}
}

// Run は3種類の削除を順に実行する。
// 1つが失敗しても残りは実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	var errs []error
	sessions, err := j.repo.DeleteExpiredSessions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("セッションの削除に失敗: %w", err))
	}
	items, err := j.repo.DeleteDiscoverItemsBefore(ctx, start.AddDate(0, 0, -j.DiscoverRetentionDays))
	if err != nil {
		errs = append(errs, fmt.Errorf("発見記事の削除に失敗: %w", err))
	}
	activities, err := j.repo.DeleteActivitiesBefore(ctx, start.AddDate(0, 0, -j.ActivityRetentionDays))
	if err != nil {
		errs = append(errs, fmt.Errorf("操作履歴の削除に失敗: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_discover_items", items),
		slog.Int64("deleted_activities", activities),
		slog.Int("discover_retention_days", j.DiscoverRetentionDays),
		slog.Int("activity_retention_days", j.ActivityRetentionDays),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後とinterval毎にRunを実行する。コンテキストのキャンセルで終了する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
