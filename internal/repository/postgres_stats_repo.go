package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresStatsRepo は統計用SQL関数を呼び出すリポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// UserStats はget_user_statsの結果を返す。読了がない場合はゼロ値を返す。
func (r *PostgresStatsRepo) UserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	s := &model.UserStats{}
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT total_books_read, total_pages_read, average_rating FROM get_user_stats($1)`,
		userID,
	).Scan(&s.TotalBooksRead, &s.TotalPagesRead, &avg)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	s.AverageRating = avg.Float64
	return s, nil
}

// TopGenres はget_top_genresの結果を返す。
func (r *PostgresStatsRepo) TopGenres(ctx context.Context, userID string) ([]model.NameCount, error) {
	return r.nameCounts(ctx, `SELECT name, count FROM get_top_genres($1)`, userID, "top genres")
}

// TopAuthors はget_top_authorsの結果を返す。
func (r *PostgresStatsRepo) TopAuthors(ctx context.Context, userID string) ([]model.NameCount, error) {
	return r.nameCounts(ctx, `SELECT name, count FROM get_top_authors($1)`, userID, "top authors")
}

func (r *PostgresStatsRepo) nameCounts(ctx context.Context, query, userID, what string) ([]model.NameCount, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	defer rows.Close()

	var out []model.NameCount
	for rows.Next() {
		var nc model.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
	}
	return out, nil
}

// ReadingPace はget_reading_paceの結果を返す。
func (r *PostgresStatsRepo) ReadingPace(ctx context.Context, userID string) (model.ReadingPace, error) {
	var pace sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT get_reading_pace($1)`, userID).Scan(&pace); err != nil {
		return "", fmt.Errorf("failed to get reading pace: %w", err)
	}
	return model.ReadingPace(pace.String), nil
}

// ReadingActivity はget_reading_activityの結果を日付の昇順で返す。
func (r *PostgresStatsRepo) ReadingActivity(ctx context.Context, userID string) ([]model.ActivityPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT finished_date, books_count FROM get_reading_activity($1)`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get reading activity: %w", err)
	}
	defer rows.Close()

	var points []model.ActivityPoint
	for rows.Next() {
		var p model.ActivityPoint
		if err := rows.Scan(&p.FinishedDate, &p.BooksCount); err != nil {
			return nil, fmt.Errorf("failed to scan reading activity: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reading activity: %w", err)
	}
	return points, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
