package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresCleanupRepo は定期クリーンアップの削除処理を提供する。
type PostgresCleanupRepo struct {
	db *sql.DB
}

// NewPostgresCleanupRepo はPostgresCleanupRepoを生成する。
func NewPostgresCleanupRepo(db *sql.DB) *PostgresCleanupRepo {
	return &PostgresCleanupRepo{db: db}
}

// DeleteExpiredSessions は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresCleanupRepo) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return r.exec(ctx, "expired sessions", `DELETE FROM sessions WHERE expires_at <= now()`)
}

// DeleteDiscoverItemsBefore はbefore以前に取得した記事を削除し、削除件数を返す。
func (r *PostgresCleanupRepo) DeleteDiscoverItemsBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, "old discover items", `DELETE FROM discover_items WHERE fetched_at < $1`, before)
}

// DeleteActivitiesBefore はbefore以前の操作履歴を削除し、削除件数を返す。
func (r *PostgresCleanupRepo) DeleteActivitiesBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, "old activities", `DELETE FROM activity_log WHERE created_at < $1`, before)
}

func (r *PostgresCleanupRepo) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted %s: %w", what, err)
	}
	return n, nil
}

// compile-time interface check
var _ CleanupRepository = (*PostgresCleanupRepo)(nil)
