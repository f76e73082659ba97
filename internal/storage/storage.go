// Package storage はBaaSのオブジェクトストレージ（Storage REST API）のクライアントを提供する。
package storage

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

	"github.com/hitoshi/codex/internal/model"
)

const (
	// BucketAvatars はユーザーアバターのバケット。
	BucketAvatars = "avatars"
	// BucketGroupAvatars はグループアバターのバケット。
	BucketGroupAvatars = "group-avatars"

	maxErrorBodySize = 64 * 1024
	upstreamTarget   = "storage"
)

// UpstreamObserver は上流サービス呼び出しの結果を記録する。
type UpstreamObserver interface {
	ObserveUpstream(target, outcome string, d time.Duration)
}

// Config はストレージクライアントの設定。
type Config struct {
	StorageURL string // 例: https://xxxx.supabase.co
	AnonKey    string
	Timeout    time.Duration
	Observer   UpstreamObserver

	HTTPClient *http.Client
}

// Client はオブジェクトストレージのクライアント。
type Client struct {
	baseURL  string
	apiKey   string
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
		baseURL:  strings.TrimRight(cfg.StorageURL, "/") + "/storage/v1",
		apiKey:   cfg.AnonKey,
		client:   client,
		observer: cfg.Observer,
	}
}

// Upload はオブジェクトをアップロードする。同じパスが存在する場合は上書きする。
func (c *Client) Upload(ctx context.Context, token, bucket, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL("object", bucket, path), body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "3600")
	return c.send(req, token, "画像のアップロードに失敗しました。")
}

// Remove は指定パスのオブジェクトを削除する。
func (c *Client) Remove(ctx context.Context, token, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	b, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("failed to encode remove request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/object/"+url.PathEscape(bucket), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create remove request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, token, "画像の削除に失敗しました。")
}

// PublicURL は公開バケットのオブジェクトURLを返す。
func (c *Client) PublicURL(bucket, path string) string {
	return c.objectURL("object/public", bucket, path)
}

// ObjectPath は公開URLからバケット内のパスを取り出す。
// 別のバケットや外部のURLの場合はfalseを返す。
func (c *Client) ObjectPath(bucket, publicURL string) (string, bool) {
	prefix := c.baseURL + "/object/public/" + bucket + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(publicURL, prefix)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	p, err := url.PathUnescape(rest)
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

// AvatarPath はユーザーアバターのパス {userId}/{unixMillis}.png を返す。
func AvatarPath(userID string, now time.Time) string {
	return fmt.Sprintf("%s/%d.png", userID, now.UnixMilli())
}

// GroupAvatarPath はグループアバターのパス {unixMillis}.{ext} を返す。
func GroupAvatarPath(ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%d.%s", now.UnixMilli(), ext)
}

func (c *Client) objectURL(kind, bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + kind + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func (c *Client) send(req *http.Request, token, fallback string) error {
	req.Header.Set("apikey", c.apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe("unavailable", start)
		if errors.Is(req.Context().Err(), context.Canceled) {
			return req.Context().Err()
		}
		return fmt.Errorf("storage request failed: %w", model.NewUpstreamUnavailableError("ストレージ"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe("error", start)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(b, &e)
		return model.NewUpstreamError(resp.StatusCode, e.Message, fallback)
	}
	c.observe("success", start)
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(upstreamTarget, outcome, time.Since(start))
	}
}
