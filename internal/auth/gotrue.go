package auth

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
	// maxErrorBodySize はエラーレスポンスとして読み込む最大サイズ。
	maxErrorBodySize = 64 * 1024
	upstreamTarget   = "auth"
)

// UpstreamObserver は上流サービス呼び出しの結果を記録する。
// metrics.Collectorが実装する。
type UpstreamObserver interface {
	ObserveUpstream(target, outcome string, d time.Duration)
}

// GoTrueConfig はIDプロバイダー（GoTrue互換の認証API）クライアントの設定。
type GoTrueConfig struct {
	SupabaseURL string // 例: https://xxxx.supabase.co
	AnonKey     string
	Timeout     time.Duration
	Observer    UpstreamObserver

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// GoTrueClient はGoTrue REST APIのクライアント。
type GoTrueClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	observer UpstreamObserver
}

// NewGoTrueClient はGoTrueClientを生成する。
func NewGoTrueClient(cfg GoTrueConfig) *GoTrueClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GoTrueClient{
		baseURL:  strings.TrimRight(cfg.SupabaseURL, "/") + "/auth/v1",
		apiKey:   cfg.AnonKey,
		client:   client,
		observer: cfg.Observer,
	}
}

// gotrueUser はGoTrueのユーザーオブジェクト。
type gotrueUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		Username string `json:"username"`
	} `json:"user_metadata"`
}

func (u gotrueUser) toModel() model.User {
	return model.User{ID: u.ID, Email: u.Email, Username: u.UserMetadata.Username}
}

// gotrueSession はトークンエンドポイントのレスポンス。
type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

func (s *gotrueSession) toTokenPair() *model.TokenPair {
	expiresAt := time.Unix(s.ExpiresAt, 0)
	if s.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return &model.TokenPair{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         s.User.toModel(),
	}
}

// gotrueError はGoTrueのエラーレスポンス。バージョンによりフィールドが異なる。
type gotrueError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func (e gotrueError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUpResult はサインアップの結果。
// メール確認が有効な場合はTokensがnilになる。
type SignUpResult struct {
	User   model.User
	Tokens *model.TokenPair
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.TokenPair, error) {
	var sess gotrueSession
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &sess, "ログインに失敗しました。"); err != nil {
		return nil, err
	}
	return sess.toTokenPair(), nil
}

// SignUp はユーザーを登録する。usernameはユーザーメタデータとして保存される。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password, username string) (*SignUpResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"username": username},
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &raw, "登録に失敗しました。"); err != nil {
		return nil, err
	}

	// メール確認が無効な場合はセッション、有効な場合はユーザーが直接返る
	var sess gotrueSession
	if err := json.Unmarshal(raw, &sess); err == nil && sess.AccessToken != "" {
		return &SignUpResult{User: sess.User.toModel(), Tokens: sess.toTokenPair()}, nil
	}
	var user gotrueUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to parse signup response: %w", err)
	}
	return &SignUpResult{User: user.toModel()}, nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (c *GoTrueClient) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	var sess gotrueSession
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &sess, "セッションの更新に失敗しました。"); err != nil {
		return nil, err
	}
	return sess.toTokenPair(), nil
}

// ExchangeCode はPKCEの認可コードをトークンに交換する。
func (c *GoTrueClient) ExchangeCode(ctx context.Context, code, verifier string) (*model.TokenPair, error) {
	var sess gotrueSession
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=pkce", "", body, &sess, "認証コードの交換に失敗しました。"); err != nil {
		return nil, err
	}
	return sess.toTokenPair(), nil
}

// GetUser はアクセストークンのユーザーを取得する。
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	var u gotrueUser
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u, "ユーザー情報の取得に失敗しました。"); err != nil {
		return nil, err
	}
	user := u.toModel()
	return &user, nil
}

// UpdatePassword はログイン中のユーザーのパスワードを変更する。
func (c *GoTrueClient) UpdatePassword(ctx context.Context, accessToken, password string) error {
	body := map[string]string{"password": password}
	return c.do(ctx, http.MethodPut, "/user", accessToken, body, nil, "パスワードの更新に失敗しました。")
}

// Recover はパスワード再設定メールを送信する。
func (c *GoTrueClient) Recover(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, path, "", body, nil, "再設定メールの送信に失敗しました。")
}

// Logout はアクセストークンに紐づくセッションをIDプロバイダー側で無効化する。
func (c *GoTrueClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil, "ログアウトに失敗しました。")
}

// AuthorizeURL は外部プロバイダーでのログインを開始するURLを生成する。
// challengeはPKCEのS256コードチャレンジ。
func (c *GoTrueClient) AuthorizeURL(provider, redirectTo, challenge string) string {
	params := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {challenge},
		"code_challenge_method": {"s256"},
	}
	return c.baseURL + "/authorize?" + params.Encode()
}

// do はGoTrue APIを呼び出し、成功時はレスポンスをoutにデコードする。
// 失敗時はレスポンスのエラーメッセージをAPIErrorに変換して返す。
func (c *GoTrueClient) do(ctx context.Context, method, path, accessToken string, in, out any, fallback string) error {
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
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe("unavailable", start)
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("auth request failed: %w", model.NewUpstreamUnavailableError("認証サービス"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe("error", start)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return decodeGoTrueError(resp.StatusCode, b, fallback)
	}
	c.observe("success", start)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}
	return nil
}

func (c *GoTrueClient) observe(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(upstreamTarget, outcome, time.Since(start))
	}
}

// decodeGoTrueError はエラーレスポンスをAPIErrorに変換する。
func decodeGoTrueError(status int, body []byte, fallback string) error {
	var e gotrueError
	_ = json.Unmarshal(body, &e)
	msg := e.text()

	switch {
	case e.ErrorCode == "invalid_credentials" || strings.Contains(msg, "Invalid login credentials"):
		return model.NewInvalidCredentialsError()
	case e.ErrorCode == "user_already_exists" || strings.Contains(msg, "User already registered"):
		return model.NewEmailTakenError()
	case e.Error == "invalid_grant" && strings.Contains(strings.ToLower(msg), "refresh token"):
		return model.NewSessionExpiredError()
	}
	return model.NewUpstreamError(status, msg, fallback)
}
