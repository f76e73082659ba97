// Package library は本棚と書籍検索のドメインロジックを提供する。
package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/codex/internal/model"
)

// API は本棚操作の外部APIクライアント。
type API interface {
	ListLibrary(ctx context.Context, token string, status model.ReadingStatus) ([]model.LibraryEntry, error)
	SearchBooks(ctx context.Context, token, query string) ([]model.SearchResult, error)
	AddBook(ctx context.Context, token string, b model.NewBook) error
}

// ActivityRecorder はユーザー操作の履歴を記録する。
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind model.ActivityKind, message string)
}

// Service は本棚のサービス層。
type Service struct {
	api      API
	activity ActivityRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api API, activity ActivityRecorder) *Service {
	return &Service{api: api, activity: activity}
}

// List は読書状態で絞り込んだ本棚を返す。statusは all, to_read, reading, finished のいずれか。
func (s *Service) List(ctx context.Context, sess *model.Session, status string) ([]model.LibraryEntry, error) {
	st, ok := model.ParseReadingStatus(status)
	if !ok {
		return nil, model.NewInvalidStatusFilterError(status)
	}
	return s.api.ListLibrary(ctx, sess.AccessToken, st)
}

// Reading は読書中の本を返す。ダッシュボードで使う。
func (s *Service) Reading(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
	return s.api.ListLibrary(ctx, sess.AccessToken, model.StatusReading)
}

// Reviews は評価済みの読了本を返す。
func (s *Service) Reviews(ctx context.Context, sess *model.Session) ([]model.LibraryEntry, error) {
	finished, err := s.api.ListLibrary(ctx, sess.AccessToken, model.StatusFinished)
	if err != nil {
		return nil, err
	}
	reviews := make([]model.LibraryEntry, 0, len(finished))
	for _, e := range finished {
		if e.Rating > 0 {
			reviews = append(reviews, e)
		}
	}
	return reviews, nil
}

// Search は書籍を検索する。空のクエリは検索せずに空の結果を返す。
func (s *Service) Search(ctx context.Context, sess *model.Session, query string) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.SearchResult{}, nil
	}
	return s.api.SearchBooks(ctx, sess.AccessToken, query)
}

// AddFromSearch は検索結果から選んだ本を本棚に追加する。
// フォームには検索クエリと結果のIDのみを持たせ、書誌情報は再検索して取り出す。
func (s *Service) AddFromSearch(ctx context.Context, sess *model.Session, query, volumeID string) (*model.NewBook, error) {
	results, err := s.api.SearchBooks(ctx, sess.AccessToken, query)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.ID != volumeID {
			continue
		}
		b := FromSearchResult(r)
		if err := s.add(ctx, sess, b); err != nil {
			return nil, err
		}
		return &b, nil
	}
	return nil, model.NewBookNotFoundError(volumeID)
}

// AddManual は手動入力した本を本棚に追加する。
func (s *Service) AddManual(ctx context.Context, sess *model.Session, b model.NewBook) error {
	return s.add(ctx, sess, b)
}

func (s *Service) add(ctx context.Context, sess *model.Session, b model.NewBook) error {
	if err := s.api.AddBook(ctx, sess.AccessToken, b); err != nil {
		return err
	}
	if s.activity != nil {
		s.activity.Record(ctx, sess.UserID, model.ActivityBookAdded, fmt.Sprintf("「%s」を本棚に追加しました", b.Title))
	}
	return nil
}

// FromSearchResult は検索結果を追加内容に変換する。
// ISBNはISBN-13を優先し、著者とジャンルは ", " で連結する。
func FromSearchResult(r model.SearchResult) model.NewBook {
	isbn := r.ISBN13
	if isbn == "" {
		isbn = r.ISBN10
	}
	return model.NewBook{
		GoogleBooksID: r.ID,
		ISBN:          isbn,
		Title:         r.Title,
		Author:        strings.Join(r.Authors, ", "),
		Description:   r.Description,
		CoverURL:      r.Thumbnail,
		PageCount:     r.PageCount,
		Genre:         strings.Join(r.Categories, ", "),
		PublishedDate: r.PublishedDate,
		Publisher:     r.Publisher,
	}
}
