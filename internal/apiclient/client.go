// Package apiclient はリライト先の外部REST API（${API_BASE_URL}）の型付きクライアントを提供する。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitoshi/codex/internal/model"
)

const (
	// maxErrorBodySize はエラーレスポンスとして読み込む最大サイズ。
	maxErrorBodySize = 64 * 1024
	upstreamTarget   = "api"
)

// UpstreamObserver は上流サービス呼び出しの結果を記録する。
type UpstreamObserver interface {
	ObserveUpstream(target, outcome string, d time.Duration)
}

// Config はAPIクライアントの設定。
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Observer UpstreamObserver

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// Client は外部REST APIのクライアント。
type Client struct {
	baseURL  string
	client   *http.Client
	observer UpstreamObserver
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		observer: cfg.Observer,
	}
}

// CreateGroupRequest はグループ作成のリクエストボディ。
type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UpdateGroupRequest はグループ更新のリクエストボディ。
// 未指定のフィールドは送信せず、nullを指定したフィールドは値を削除する。
type UpdateGroupRequest struct {
	Name        nullable.Nullable[string] `json:"name,omitempty"`
	Description nullable.Nullable[string] `json:"description,omitempty"`
	AvatarURL   nullable.Nullable[string] `json:"avatar_url,omitempty"`
}

// NewUpdateGroupRequest はフォーム入力から更新リクエストを組み立てる。
// 空の説明とアバターURLはnullとして送信する。
func NewUpdateGroupRequest(in model.GroupInput) UpdateGroupRequest {
	req := UpdateGroupRequest{Name: nullable.NewNullableWithValue(in.Name)}
	if in.Description == "" {
		req.Description = nullable.NewNullNullable[string]()
	} else {
		req.Description = nullable.NewNullableWithValue(in.Description)
	}
	if in.AvatarURL == "" {
		req.AvatarURL = nullable.NewNullNullable[string]()
	} else {
		req.AvatarURL = nullable.NewNullableWithValue(in.AvatarURL)
	}
	return req
}

// InviteRequest は招待メール送信のリクエストボディ。
type InviteRequest struct {
	GroupID       string                `json:"groupId"`
	GroupName     string                `json:"groupName"`
	InvitedEmails []openapi_types.Email `json:"invitedEmails"`
}

// apiGroup はグループのレスポンス。
type apiGroup struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description"`
	AvatarURL      *string   `json:"avatar_url"`
	InvitationCode string    `json:"invitation_code"`
	CreatedAt      time.Time `json:"created_at"`
}

func (g apiGroup) toModel() *model.Group {
	return &model.Group{
		ID:             g.ID,
		Name:           g.Name,
		Description:    deref(g.Description),
		AvatarURL:      deref(g.AvatarURL),
		InvitationCode: g.InvitationCode,
		CreatedAt:      g.CreatedAt,
	}
}

// apiLibraryEntry は本棚エントリのレスポンス。
type apiLibraryEntry struct {
	ID         string     `json:"id"`
	StatusID   int        `json:"status_id"`
	Rating     *int       `json:"rating"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Book       struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Author      *string `json:"author"`
		Description *string `json:"description"`
		CoverURL    *string `json:"cover_url"`
		PageCount   *int    `json:"page_count"`
		Genre       *string `json:"genre"`
	} `json:"book"`
}

func (e apiLibraryEntry) toModel() model.LibraryEntry {
	entry := model.LibraryEntry{
		ID:         e.ID,
		StatusID:   e.StatusID,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		Book: model.Book{
			ID:          e.Book.ID,
			Title:       e.Book.Title,
			Author:      deref(e.Book.Author),
			Description: deref(e.Book.Description),
			CoverURL:    deref(e.Book.CoverURL),
			Genre:       deref(e.Book.Genre),
		},
	}
	if e.Rating != nil {
		entry.Rating = *e.Rating
	}
	if e.Book.PageCount != nil {
		entry.Book.PageCount = *e.Book.PageCount
	}
	return entry
}

// apiVolume は書籍検索結果1件（Google Books互換）のレスポンス。
type apiVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title      string   `json:"title"`
		Authors    []string `json:"authors"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
		Description         string   `json:"description"`
		PageCount           int      `json:"pageCount"`
		Categories          []string `json:"categories"`
		PublishedDate       string   `json:"publishedDate"`
		Publisher           string   `json:"publisher"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
	} `json:"volumeInfo"`
}

func (v apiVolume) toModel() model.SearchResult {
	info := v.VolumeInfo
	r := model.SearchResult{
		ID:            v.ID,
		Title:         info.Title,
		Authors:       info.Authors,
		Thumbnail:     info.ImageLinks.Thumbnail,
		Description:   info.Description,
		PageCount:     info.PageCount,
		Categories:    info.Categories,
		PublishedDate: info.PublishedDate,
		Publisher:     info.Publisher,
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			r.ISBN13 = id.Identifier
		case "ISBN_10":
			r.ISBN10 = id.Identifier
		}
	}
	return r
}

// addBookRequest は本棚への追加リクエストボディ。
type addBookRequest struct {
	GoogleBooksID string `json:"googleBooksId,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Description   string `json:"description,omitempty"`
	CoverURL      string `json:"coverUrl,omitempty"`
	PageCount     int    `json:"pageCount,omitempty"`
	Genre         string `json:"genre,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
}

// CreateGroup はグループを作成する。作成者が管理者になる。
func (c *Client) CreateGroup(ctx context.Context, token string, req CreateGroupRequest) (*model.Group, error) {
	var g apiGroup
	if err := c.do(ctx, http.MethodPost, "/api/groups", token, req, &g, "グループの作成に失敗しました。"); err != nil {
		return nil, err
	}
	return g.toModel(), nil
}

// UpdateGroup はグループ情報を部分更新する。
func (c *Client) UpdateGroup(ctx context.Context, token, groupID string, req UpdateGroupRequest) error {
	return c.do(ctx, http.MethodPatch, "/api/groups/"+url.PathEscape(groupID), token, req, nil, "グループの更新に失敗しました。")
}

// DeleteGroup はグループを削除する。
func (c *Client) DeleteGroup(ctx context.Context, token, groupID string) error {
	return c.do(ctx, http.MethodDelete, "/api/groups/"+url.PathEscape(groupID), token, nil, nil, "グループの削除に失敗しました。")
}

// RegenerateCode は招待コードを再生成し、新しいコードを返す。
func (c *Client) RegenerateCode(ctx context.Context, token, groupID string) (string, error) {
	var resp struct {
		InvitationCode string `json:"invitation_code"`
	}
	path := "/api/groups/" + url.PathEscape(groupID) + "/regenerate-code"
	if err := c.do(ctx, http.MethodPatch, path, token, nil, &resp, "招待コードを再生成できませんでした。"); err != nil {
		return "", err
	}
	return resp.InvitationCode, nil
}

// LeaveGroup はグループから脱退する。
func (c *Client) LeaveGroup(ctx context.Context, token, groupID string) error {
	path := "/api/groups/" + url.PathEscape(groupID) + "/leave"
	return c.do(ctx, http.MethodDelete, path, token, nil, nil, "グループから脱退できませんでした。")
}

// JoinGroup は招待コードでグループに参加する。
func (c *Client) JoinGroup(ctx context.Context, token, invitationCode string) error {
	body := map[string]string{"invitationCode": invitationCode}
	return c.do(ctx, http.MethodPost, "/api/library", token, body, nil, "グループに参加できませんでした。")
}

// Invite はグループへの招待メールを送信する。
func (c *Client) Invite(ctx context.Context, token string, req InviteRequest) error {
	return c.do(ctx, http.MethodPost, "/api/groups/invite", token, req, nil, "招待の送信に失敗しました。")
}

// AcceptInvitation は招待トークンを受諾する。
func (c *Client) AcceptInvitation(ctx context.Context, token, invitationToken string) error {
	path := "/groups/accept-invitation?token=" + url.QueryEscape(invitationToken)
	return c.do(ctx, http.MethodGet, path, token, nil, nil, "招待の受諾に失敗しました。")
}

// ListLibrary はユーザーの本棚を取得する。StatusAllの場合はフィルタしない。
func (c *Client) ListLibrary(ctx context.Context, token string, status model.ReadingStatus) ([]model.LibraryEntry, error) {
	path := "/api/library"
	if status != "" && status != model.StatusAll {
		path += "?status=" + url.QueryEscape(string(status))
	}

	var raw []apiLibraryEntry
	if err := c.do(ctx, http.MethodGet, path, token, nil, &raw, "本棚を取得できませんでした。"); err != nil {
		return nil, err
	}
	entries := make([]model.LibraryEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, e.toModel())
	}
	return entries, nil
}

// SearchBooks は書籍を検索する。
func (c *Client) SearchBooks(ctx context.Context, token, query string) ([]model.SearchResult, error) {
	var resp struct {
		Items []apiVolume `json:"items"`
	}
	path := "/api/library/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp, "書籍の検索に失敗しました。"); err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, 0, len(resp.Items))
	for _, v := range resp.Items {
		results = append(results, v.toModel())
	}
	return results, nil
}

// AddBook は本を本棚に追加する。
func (c *Client) AddBook(ctx context.Context, token string, b model.NewBook) error {
	body := addBookRequest{
		GoogleBooksID: b.GoogleBooksID,
		ISBN:          b.ISBN,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		CoverURL:      b.CoverURL,
		PageCount:     b.PageCount,
		Genre:         b.Genre,
		PublishedDate: b.PublishedDate,
		Publisher:     b.Publisher,
	}
	return c.do(ctx, http.MethodPost, "/api/library/add", token, body, nil, "本の追加に失敗しました。")
}

// do はAPIを呼び出し、成功時はレスポンスをoutにデコードする。
// 失敗時はレスポンスのmessageをAPIErrorに変換して返す。
func (c *Client) do(ctx context.Context, method, path, token string, in, out any, fallback string) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe("unavailable", start)
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("api request failed: %w", model.NewUpstreamUnavailableError("APIサーバー"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe("error", start)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &e)
		return model.NewUpstreamError(resp.StatusCode, e.Message, fallback)
	}
	c.observe("success", start)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse api response: %w", err)
	}
	return nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(upstreamTarget, outcome, time.Since(start))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
