package discover

import (
	"context"
	"fmt"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/repository"
)

// UserAgent は発見フィードの取得に使うUser-Agent。
const UserAgent = "Codex/1.0 (+reading news)"

// DefaultLimit は発見ページに表示する記事数の既定値。
const DefaultLimit = 30

// Service は発見ページのサービス層。
type Service struct {
	repo repository.DiscoverRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DiscoverRepository) *Service {
	return &Service{repo: repo}
}

// Latest は新しい順にn件の記事を返す。nが0以下の場合はDefaultLimitを使う。
func (s *Service) Latest(ctx context.Context, n int) ([]model.DiscoverItem, error) {
	if n <= 0 {
		n = DefaultLimit
	}
	items, err := s.repo.ListLatest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("発見記事の取得に失敗しました: %w", err)
	}
	if items == nil {
		items = []model.DiscoverItem{}
	}
	return items, nil
}
