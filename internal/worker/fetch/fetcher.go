package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/codex/internal/discover"
	"github.com/hitoshi/codex/internal/metrics"
	"github.com/hitoshi/codex/internal/model"
)

// summaryMaxRunes を超える概要はプレーンテキストに切り詰める。
const summaryMaxRunes = 400

// ItemStore は発見記事の保存先。
type ItemStore interface {
	UpsertItem(ctx context.Context, item *model.DiscoverItem) (bool, error)
}

// URLGuard は取得先URLの検証と安全なHTTPクライアントの生成を行う。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FeedResolver は設定されたURLをフィードURLに解決する。
type FeedResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Sanitizer は記事概要のHTMLを無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
	PlainText(raw string, maxRunes int) string
}

// Fetcher は発見フィード1件の取得、パース、保存を行う。
// ETag/Last-Modifiedによる条件付きGETを使い、結果をSourceの状態に反映する。
type Fetcher struct {
	store       ItemStore
	resolver    FeedResolver
	guard       URLGuard
	sanitizer   Sanitizer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	interval    time.Duration
	now         func() time.Time
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// intervalは成功時に次回取得までに空ける時間。
func NewFetcher(
	store ItemStore,
	resolver FeedResolver,
	guard URLGuard,
	sanitizer Sanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	interval time.Duration,
) *Fetcher {
	return &Fetcher{
		store:       store,
		resolver:    resolver,
		guard:       guard,
		sanitizer:   sanitizer,
		metrics:     collector,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		interval:    interval,
		now:         time.Now,
	}
}

// Fetch はソースを取得し、結果に応じてソースの状態を更新する。
// パース失敗はエラーとして返さず、連続回数として数える。
func (f *Fetcher) Fetch(ctx context.Context, src *Source) error {
	start := f.now()

	// 1. フィードURLの解決（初回のみ）
	if src.FeedURL == "" {
		feedURL, err := f.resolver.Resolve(ctx, src.URL)
		if err != nil {
			if errors.Is(err, discover.ErrFeedNotFound) {
				ApplyStop(src, "フィードが見つかりませんでした")
			} else {
				ApplyBackoff(src, fmt.Sprintf("フィードの解決に失敗: %s", err.Error()), start)
			}
			f.metrics.RecordFetchFailure(src.URL, "resolve")
			return fmt.Errorf("フィードの解決に失敗: %w", err)
		}
		src.FeedURL = feedURL
	}

	// 2. 取得先の検証
	if err := f.guard.ValidateURL(src.FeedURL); err != nil {
		f.logger.Error("取得先URLの検証に失敗しました",
			slog.String("source", src.URL),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyStop(src, fmt.Sprintf("取得先URLの検証失敗: %s", err.Error()))
		f.metrics.RecordFetchFailure(src.URL, "blocked")
		return fmt.Errorf("取得先URLの検証に失敗: %w", err)
	}

	// 3. 条件付きGET
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", discover.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	resp, err := f.guard.NewSafeClient(f.timeout, f.maxBodySize).Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("source", src.URL),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), start)
		f.metrics.RecordFetchFailure(src.URL, "request")
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	// 4. ステータスによる分岐
	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		f.logger.Info("フィードは未変更です（304）",
			slog.String("source", src.URL),
			slog.Float64("duration_ms", float64(f.now().Sub(start).Milliseconds())),
		)
		ApplySuccess(src, f.interval, start)
		f.metrics.RecordFetchSuccess(src.URL)
		f.metrics.RecordFetchLatency(f.now().Sub(start))
		return nil
	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d により取得を停止しました", resp.StatusCode)
		f.logger.Warn("フィードの取得を停止します",
			slog.String("source", src.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyStop(src, reason)
		f.metrics.RecordFetchFailure(src.URL, "stopped")
		return nil
	case FetchResultBackoff:
		f.logger.Warn("フィードの取得にバックオフを適用します",
			slog.String("source", src.URL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode), start)
		f.metrics.RecordFetchFailure(src.URL, "backoff")
		return nil
	default:
		f.logger.Warn("予期しないHTTPステータスコード",
			slog.String("source", src.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyBackoff(src, fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode), start)
		f.metrics.RecordFetchFailure(src.URL, "unexpected_status")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		ApplyBackoff(src, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), start)
		f.metrics.RecordFetchFailure(src.URL, "read")
		return fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}

	// 5. パース
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("source", src.URL),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyParseFailure(src, err.Error(), f.interval, start)
		f.metrics.RecordParseFailure(src.URL)
		return nil
	}
	if parsed.Title != "" {
		src.Title = parsed.Title
	}

	// 6. 保存
	inserted, err := f.storeEntries(ctx, src, ConvertItems(parsed.Items), start)
	if err != nil {
		f.logger.Error("記事の保存に失敗しました",
			slog.String("source", src.URL),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(src, fmt.Sprintf("記事の保存失敗: %s", err.Error()), start)
		f.metrics.RecordFetchFailure(src.URL, "store")
		return err
	}

	ApplySuccess(src, f.interval, start)
	duration := f.now().Sub(start)
	f.metrics.RecordFetchSuccess(src.URL)
	f.metrics.RecordFetchLatency(duration)
	f.metrics.RecordItemsUpserted(inserted)

	f.logger.Info("フィードの取得が完了しました",
		slog.String("source", src.URL),
		slog.String("feed_url", src.FeedURL),
		slog.Int("items_inserted", inserted),
		slog.Int("items_total", len(parsed.Items)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// storeEntries は記事を1件ずつUPSERTし、新規に作成された件数を返す。
func (f *Fetcher) storeEntries(ctx context.Context, src *Source, entries []model.ParsedEntry, fetchedAt time.Time) (int, error) {
	inserted := 0
	for _, e := range entries {
		item := &model.DiscoverItem{
			SourceURL:   src.FeedURL,
			SourceTitle: src.Title,
			Title:       e.Title,
			Link:        e.Link,
			Summary:     f.summarize(e.Summary),
			ImageURL:    e.ImageURL,
			PublishedAt: e.PublishedAt,
			FetchedAt:   fetchedAt,
		}
		created, err := f.store.UpsertItem(ctx, item)
		if err != nil {
			return inserted, fmt.Errorf("記事のUPSERTに失敗 (%s): %w", e.Link, err)
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}

// summarize は概要を無害化する。長すぎる場合はタグを除いて切り詰め、エスケープしたテキストにする。
func (f *Fetcher) summarize(raw string) string {
	plain := f.sanitizer.PlainText(raw, 0)
	if utf8.RuneCountInString(plain) > summaryMaxRunes {
		return html.EscapeString(f.sanitizer.PlainText(raw, summaryMaxRunes))
	}
	return f.sanitizer.Sanitize(raw)
}

// ConvertItems はgofeedの記事を保存前の記事データに変換する。
// リンクのない記事は保存のキーがないため除く。
func ConvertItems(items []*gofeed.Item) []model.ParsedEntry {
	entries := make([]model.ParsedEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使う
		if link == "" && isHTTPURL(item.GUID) {
			link = item.GUID
		}
		if link == "" {
			continue
		}

		e := model.ParsedEntry{
			Title:    strings.TrimSpace(item.Title),
			Link:     link,
			Summary:  item.Description,
			ImageURL: imageURL(item),
		}
		if e.Summary == "" {
			e.Summary = item.Content
		}
		if e.Title == "" {
			e.Title = link
		}

		switch {
		case item.PublishedParsed != nil:
			t := *item.PublishedParsed
			e.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := *item.UpdatedParsed
			e.PublishedAt = &t
		}

		entries = append(entries, e)
	}
	return entries
}

// imageURL はitemの画像、なければ画像のenclosureのURLを返す。
func imageURL(item *gofeed.Item) string {
	if item.Image != nil && isHTTPURL(item.Image.URL) {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && isHTTPURL(enc.URL) {
			return enc.URL
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
