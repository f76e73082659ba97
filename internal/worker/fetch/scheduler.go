// Package fetch は発見フィードのバックグラウンド取得を提供する。
// スケジューラ、フェッチャー、リトライ/バックオフ戦略を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SourceFetcher はソース1件の取得を行う。
type SourceFetcher interface {
	Fetch(ctx context.Context, src *Source) error
}

// Scheduler は発見フィードの取得間隔と並列数を制御する。
// ソースの状態はスケジューラが保持し、1サイクル内で同じソースを
// 複数のゴルーチンが扱うことはない。
type Scheduler struct {
	sources        []*Source
	fetcher        SourceFetcher
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(sources []*Source, fetcher SourceFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("発見フィードのスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("sources", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("発見フィードのスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取得時刻を迎えたソースを並列に取得し、全て終わるまで待つ。
// 取得したソース数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := s.now()

	var due []*Source
	for _, src := range s.sources {
		if src.Due(start) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		s.logger.Info("取得対象のフィードはありません")
		return 0
	}

	s.logger.Info("フェッチサイクルを開始します", slog.Int("source_count", len(due)))

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, src := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(src *Source) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, src); err != nil {
				s.logger.Error("フィードの取得に失敗しました",
					slog.String("source", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(src)
	}
	wg.Wait()

	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return len(due)
}
