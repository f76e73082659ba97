package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var avatarURL sql.NullString
	var pace string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, bio, avatar_url, favorite_genres, favorite_authors, preferred_pace, updated_at
		 FROM profiles
		 WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Username, &p.Bio, &avatarURL,
		pq.Array(&p.FavoriteGenres), pq.Array(&p.FavoriteAuthors), &pace, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.AvatarURL = avatarURL.String
	p.PreferredPace = model.ReadingPace(pace)
	return p, nil
}

// UsernameExists はexcludeID以外のユーザーが同じユーザー名を使っているかを返す。
func (r *PostgresProfileRepo) UsernameExists(ctx context.Context, username, excludeID string) (bool, error) {
	var exists bool
	// excludeIDが空の場合はNULL比較となり全ユーザーが対象になる
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM profiles
			WHERE lower(username) = lower($1)
			  AND ($2 = '' OR id::text <> $2)
		)`,
		username, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// Update はプロフィールを更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate) error {
	genres := update.FavoriteGenres
	if genres == nil {
		genres = []string{}
	}
	authors := update.FavoriteAuthors
	if authors == nil {
		authors = []string{}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET username = $2, bio = $3, favorite_genres = $4, favorite_authors = $5,
		     preferred_pace = $6, updated_at = now()
		 WHERE id = $1`,
		id, update.Username, update.Bio, pq.Array(genres), pq.Array(authors), string(update.PreferredPace),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.NewUsernameTakenError(update.Username)
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewProfileNotFoundError()
	}
	return nil
}

// UpdateAvatarURL はアバター画像のURLを更新する。
func (r *PostgresProfileRepo) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET avatar_url = $2, updated_at = now() WHERE id = $1`,
		id, avatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update avatar url: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
