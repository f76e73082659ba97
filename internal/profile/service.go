// Package profile はプロフィールと読書統計のドメインロジックを提供する。
package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/repository"
	"github.com/hitoshi/codex/internal/storage"
)

// DefaultGreetingName はユーザー名が未設定の場合の呼びかけ。
const DefaultGreetingName = "読書家"

// ObjectStore はアバター画像の保存先。
type ObjectStore interface {
	Upload(ctx context.Context, token, bucket, path, contentType string, body io.Reader) error
	Remove(ctx context.Context, token, bucket string, paths ...string) error
	PublicURL(bucket, path string) string
	ObjectPath(bucket, publicURL string) (string, bool)
}

// ActivityRecorder はユーザー操作の履歴を記録する。
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind model.ActivityKind, message string)
}

// Overview はプロフィールページに表示する内容。
type Overview struct {
	Profile    model.Profile
	Stats      model.UserStats
	Badges     []model.Badge
	TopGenres  []WordItem
	TopAuthors []WordItem
	Pace       model.ReadingPace
	Period     model.ActivityPeriod
	Activity   []model.ActivityBucket
}

// Service はプロフィールのサービス層。
type Service struct {
	profiles   repository.ProfileRepository
	stats      repository.StatsRepository
	badges     repository.BadgeRepository
	store      ObjectStore
	activity   ActivityRecorder
	avatarSize int
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profiles repository.ProfileRepository,
	stats repository.StatsRepository,
	badges repository.BadgeRepository,
	store ObjectStore,
	activity ActivityRecorder,
	avatarSize int,
) *Service {
	return &Service{
		profiles:   profiles,
		stats:      stats,
		badges:     badges,
		store:      store,
		activity:   activity,
		avatarSize: avatarSize,
		now:        time.Now,
	}
}

// Overview はプロフィール、統計、バッジ、読書アクティビティをまとめて取得する。
// いずれかの取得に失敗した場合はエラーを返す。
func (s *Service) Overview(ctx context.Context, sess *model.Session, period model.ActivityPeriod) (*Overview, error) {
	userID := sess.UserID
	out := &Overview{Period: period}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.FindByID(gctx, userID)
		if err != nil {
			return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
		}
		if p == nil {
			return model.NewProfileNotFoundError()
		}
		out.Profile = *p
		return nil
	})
	g.Go(func() error {
		st, err := s.stats.UserStats(gctx, userID)
		if err != nil {
			return fmt.Errorf("読書統計の取得に失敗しました: %w", err)
		}
		if st != nil {
			out.Stats = *st
		}
		return nil
	})
	g.Go(func() error {
		b, err := s.badges.ListByUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("バッジの取得に失敗しました: %w", err)
		}
		out.Badges = b
		return nil
	})
	g.Go(func() error {
		genres, err := s.stats.TopGenres(gctx, userID)
		if err != nil {
			return fmt.Errorf("ジャンル統計の取得に失敗しました: %w", err)
		}
		out.TopGenres = WordCloud(genres)
		return nil
	})
	g.Go(func() error {
		authors, err := s.stats.TopAuthors(gctx, userID)
		if err != nil {
			return fmt.Errorf("著者統計の取得に失敗しました: %w", err)
		}
		out.TopAuthors = WordCloud(authors)
		return nil
	})
	g.Go(func() error {
		pace, err := s.stats.ReadingPace(gctx, userID)
		if err != nil {
			return fmt.Errorf("読書ペースの取得に失敗しました: %w", err)
		}
		out.Pace = pace
		return nil
	})
	g.Go(func() error {
		points, err := s.stats.ReadingActivity(gctx, userID)
		if err != nil {
			return fmt.Errorf("読書アクティビティの取得に失敗しました: %w", err)
		}
		out.Activity = Aggregate(points, period)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Greeting はダッシュボードの呼びかけに使う名前を返す。
// プロフィールが取得できない場合やユーザー名が空の場合は既定の呼びかけを返す。
func (s *Service) Greeting(ctx context.Context, sess *model.Session) string {
	p, err := s.profiles.FindByID(ctx, sess.UserID)
	if err != nil {
		slog.Warn("failed to load profile for greeting",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return DefaultGreetingName
	}
	if p == nil || p.Username == "" {
		return DefaultGreetingName
	}
	return p.Username
}

// UsernameAvailable はユーザー名が他のユーザーに使われていないかを返す。
// excludeIDには自分自身のIDを渡す（サインアップ時は空）。
func (s *Service) UsernameAvailable(ctx context.Context, username, excludeID string) (bool, error) {
	exists, err := s.profiles.UsernameExists(ctx, username, excludeID)
	if err != nil {
		return false, fmt.Errorf("ユーザー名の確認に失敗しました: %w", err)
	}
	return !exists, nil
}

// Update はプロフィールを更新する。ユーザー名が使われている場合はエラーを返す。
func (s *Service) Update(ctx context.Context, sess *model.Session, update model.ProfileUpdate) error {
	available, err := s.UsernameAvailable(ctx, update.Username, sess.UserID)
	if err != nil {
		return err
	}
	if !available {
		return model.NewUsernameTakenError(update.Username)
	}

	if err := s.profiles.Update(ctx, sess.UserID, update); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if s.activity != nil {
		s.activity.Record(ctx, sess.UserID, model.ActivityProfileEdited, "プロフィールを更新しました")
	}
	return nil
}

// UploadAvatar は画像を正方形のPNGに切り抜いてアップロードし、プロフィールのアバターURLを更新する。
// 以前のアバター画像は先に削除する。
func (s *Service) UploadAvatar(ctx context.Context, sess *model.Session, r io.Reader) (string, error) {
	// 1. 正方形に切り抜く
	png, err := storage.CropSquarePNG(r, s.avatarSize)
	if err != nil {
		return "", model.NewInvalidImageError(err.Error())
	}

	// 2. 以前の画像を削除する。失敗してもアップロードは続ける
	current, err := s.profiles.FindByID(ctx, sess.UserID)
	if err != nil {
		return "", fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if current != nil && current.AvatarURL != "" {
		if old, ok := s.store.ObjectPath(storage.BucketAvatars, current.AvatarURL); ok {
			if err := s.store.Remove(ctx, sess.AccessToken, storage.BucketAvatars, old); err != nil {
				slog.Warn("failed to remove previous avatar",
					slog.String("user_id", sess.UserID),
					slog.String("path", old),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// 3. アップロードしてURLを保存する
	path := storage.AvatarPath(sess.UserID, s.now())
	if err := s.store.Upload(ctx, sess.AccessToken, storage.BucketAvatars, path, "image/png", bytes.NewReader(png)); err != nil {
		return "", err
	}
	publicURL := s.store.PublicURL(storage.BucketAvatars, path)
	if err := s.profiles.UpdateAvatarURL(ctx, sess.UserID, publicURL); err != nil {
		return "", fmt.Errorf("アバターURLの更新に失敗しました: %w", err)
	}
	return publicURL, nil
}
