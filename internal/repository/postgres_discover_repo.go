package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresDiscoverRepo はPostgreSQLを使用した発見ページ記事リポジトリ。
type PostgresDiscoverRepo struct {
	db *sql.DB
}

// NewPostgresDiscoverRepo はPostgresDiscoverRepoを生成する。
func NewPostgresDiscoverRepo(db *sql.DB) *PostgresDiscoverRepo {
	return &PostgresDiscoverRepo{db: db}
}

// UpsertItem はlinkをキーに記事を作成または更新する。新規作成の場合はtrueを返す。
// 既存記事のIDは維持し、本文と取得日時のみ上書きする。
func (r *PostgresDiscoverRepo) UpsertItem(ctx context.Context, item *model.DiscoverItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now()
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO discover_items (id, source_url, source_title, title, link, summary, image_url, published_at, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		 ON CONFLICT (link) DO UPDATE SET
		     source_title = EXCLUDED.source_title,
		     title = EXCLUDED.title,
		     summary = EXCLUDED.summary,
		     image_url = EXCLUDED.image_url,
		     published_at = COALESCE(EXCLUDED.published_at, discover_items.published_at),
		     fetched_at = EXCLUDED.fetched_at
		 RETURNING id, (xmax = 0)`,
		item.ID, item.SourceURL, item.SourceTitle, item.Title, item.Link, item.Summary,
		item.ImageURL, item.PublishedAt, item.FetchedAt,
	).Scan(&item.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert discover item: %w", err)
	}
	return inserted, nil
}

// ListLatest は公開日時の新しい順にlimit件返す。公開日時のない記事は取得日時で並べる。
func (r *PostgresDiscoverRepo) ListLatest(ctx context.Context, limit int) ([]model.DiscoverItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_url, source_title, title, link, summary, image_url, published_at, fetched_at
		 FROM discover_items
		 ORDER BY COALESCE(published_at, fetched_at) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list discover items: %w", err)
	}
	defer rows.Close()

	var items []model.DiscoverItem
	for rows.Next() {
		var it model.DiscoverItem
		var imageURL sql.NullString
		var publishedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.SourceURL, &it.SourceTitle, &it.Title, &it.Link, &it.Summary,
			&imageURL, &publishedAt, &it.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan discover item: %w", err)
		}
		it.ImageURL = imageURL.String
		if publishedAt.Valid {
			t := publishedAt.Time
			it.PublishedAt = &t
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discover items: %w", err)
	}
	return items, nil
}

// compile-time interface check
var _ DiscoverRepository = (*PostgresDiscoverRepo)(nil)
