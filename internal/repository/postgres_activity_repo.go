package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用した操作履歴リポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create は操作履歴を1件記録する。IDと作成日時が未設定の場合は補完する。
func (r *PostgresActivityRepo) Create(ctx context.Context, activity *model.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, kind, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		activity.ID, activity.UserID, string(activity.Kind), activity.Message, activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// ListRecent はユーザーの最近の操作履歴を新しい順にlimit件返す。
func (r *PostgresActivityRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, kind, message, created_at
		 FROM activity_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		var a model.Activity
		var kind string
		if err := rows.Scan(&a.ID, &a.UserID, &kind, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Kind = model.ActivityKind(kind)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
