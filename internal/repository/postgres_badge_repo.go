package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresBadgeRepo はPostgreSQLを使用したバッジリポジトリ。
type PostgresBadgeRepo struct {
	db *sql.DB
}

// NewPostgresBadgeRepo はPostgresBadgeRepoを生成する。
func NewPostgresBadgeRepo(db *sql.DB) *PostgresBadgeRepo {
	return &PostgresBadgeRepo{db: db}
}

// ListByUser はユーザーが獲得したバッジを獲得日時の新しい順に返す。
func (r *PostgresBadgeRepo) ListByUser(ctx context.Context, userID string) ([]model.Badge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.name, b.description, b.icon_url, ub.unlocked_at
		 FROM user_badges ub
		 JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = $1
		 ORDER BY ub.unlocked_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	var badges []model.Badge
	for rows.Next() {
		var b model.Badge
		var iconURL sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &iconURL, &b.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		b.IconURL = iconURL.String
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badges: %w", err)
	}
	return badges, nil
}

// compile-time interface check
var _ BadgeRepository = (*PostgresBadgeRepo)(nil)
