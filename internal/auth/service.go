// Package auth はIDプロバイダーとの認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/codex/internal/model"
	"github.com/hitoshi/codex/internal/repository"
)

// refreshMargin はアクセストークンの失効前に更新を行う猶予。
const refreshMargin = 60 * time.Second

// IdentityProvider はIDプロバイダーのインターフェース。
// GoTrueClientが実装する。
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.TokenPair, error)
	SignUp(ctx context.Context, email, password, username string) (*SignUpResult, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*model.TokenPair, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
	Recover(ctx context.Context, email, redirectTo string) error
	Logout(ctx context.Context, accessToken string) error
	AuthorizeURL(provider, redirectTo, challenge string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int    // セッション有効期間（秒）
	BaseURL       string // コールバックURLの組み立てに使用する
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         IdentityProvider
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time

	// refreshes はセッションごとのリフレッシュを1回にまとめる。
	// リフレッシュトークンは使い捨てのため、同じセッションの同時リクエストで二重に使わない。
	refreshes singleflight.Group
}

// NewService はServiceを生成する。
func NewService(idp IdentityProvider, sessionRepo repository.SessionRepository, config ServiceConfig) *Service {
	return &Service{
		idp:         idp,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// SignIn はメールアドレスとパスワードでサインインし、セッションを発行する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	tokens, err := s.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.createSession(ctx, tokens)
}

// SignUp はユーザーを登録する。
// メール確認が不要な設定の場合のみセッションを発行し、それ以外はnilを返す。
func (s *Service) SignUp(ctx context.Context, email, password, username string) (*model.Session, error) {
	result, err := s.idp.SignUp(ctx, email, password, username)
	if err != nil {
		return nil, err
	}

	slog.Info("user signed up", slog.String("user_id", result.User.ID))

	if result.Tokens == nil {
		return nil, nil
	}
	return s.createSession(ctx, result.Tokens)
}

// OAuthStart は外部プロバイダーログインの開始情報。
type OAuthStart struct {
	URL      string
	Verifier string // PKCEのコード検証子。コールバックまでCookieで保持する
}

// GoogleLoginURL はGoogleログインの認可URLとPKCEの検証子を生成する。
// nextはログイン後の遷移先で、コールバックURLに引き継がれる。
func (s *Service) GoogleLoginURL(next string) (*OAuthStart, error) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	redirectTo := s.config.BaseURL + "/auth/callback"
	if next != "" {
		redirectTo += "?next=" + url.QueryEscape(next)
	}

	return &OAuthStart{
		URL:      s.idp.AuthorizeURL("google", redirectTo, challenge),
		Verifier: verifier,
	}, nil
}

// CompleteOAuth は認可コードを交換し、セッションを発行する。
// パスワード再設定メールのリンクもこの経路でセッションを得る。
func (s *Service) CompleteOAuth(ctx context.Context, code, verifier string) (*model.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	tokens, err := s.idp.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return s.createSession(ctx, tokens)
}

// RequestPasswordReset はパスワード再設定メールの送信を依頼する。
// メールのリンクはコールバック経由で再設定画面へ遷移する。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	redirectTo := s.config.BaseURL + "/auth/callback?next=" + url.QueryEscape("/auth/reset-password")
	return s.idp.Recover(ctx, email, redirectTo)
}

// ResetPassword はログイン中（再設定リンク経由を含む）のユーザーのパスワードを更新する。
func (s *Service) ResetPassword(ctx context.Context, session *model.Session, password string) error {
	if session == nil {
		return model.NewNotAuthenticatedError()
	}
	return s.idp.UpdatePassword(ctx, session.AccessToken, password)
}

// SignOut はセッションを破棄する。IDプロバイダー側のログアウトは失敗しても続行する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if session != nil {
		if err := s.idp.Logout(ctx, session.AccessToken); err != nil {
			slog.Warn("IDプロバイダーのログアウトに失敗しました",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// Resolve はセッションIDから有効なセッションを取得する。
// アクセストークンの失効が近い場合はリフレッシュし、2番目の戻り値でそれを通知する。
// セッションが存在しない場合はnilを返す。リフレッシュに失敗した場合はセッションを削除し、エラーを返す。
func (s *Service) Resolve(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, false, nil
	}

	now := s.now()
	if !session.AccessExpiringWithin(now, refreshMargin) {
		return session, false, nil
	}

	v, err, _ := s.refreshes.Do(session.ID, func() (any, error) {
		// 切断したリクエストに巻き込まれないよう、キャンセルを引き継がない
		return s.refresh(context.WithoutCancel(ctx), session, now)
	})
	if err != nil {
		return nil, false, err
	}
	refreshed := *v.(*model.Session)
	return &refreshed, true, nil
}

// refresh はリフレッシュトークンで新しいトークンを取得し、セッションに保存する。
// 失敗した場合はセッションを削除する。
func (s *Service) refresh(ctx context.Context, session *model.Session, now time.Time) (*model.Session, error) {
	// 1. リフレッシュトークンで新しいトークンを取得
	tokens, err := s.idp.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// 2a. 失敗: セッションは使えないため削除する
		if delErr := s.sessionRepo.DeleteByID(ctx, session.ID); delErr != nil {
			slog.Error("failed to delete stale session", slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	// 2b. 成功: トークンを保存し、セッションの有効期限を延長する
	session.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		session.RefreshToken = tokens.RefreshToken
	}
	session.AccessExpiresAt = tokens.ExpiresAt
	session.ExpiresAt = now.Add(s.maxAge())
	if err := s.sessionRepo.UpdateTokens(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save refreshed session: %w", err)
	}

	slog.Info("session refreshed", slog.String("user_id", session.UserID))
	return session, nil
}

// createSession はトークンを保持するセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, tokens *model.TokenPair) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:              sessionID,
		UserID:          tokens.User.ID,
		Email:           tokens.User.Email,
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		AccessExpiresAt: tokens.ExpiresAt,
		ExpiresAt:       now.Add(s.maxAge()),
		CreatedAt:       now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session created", slog.String("user_id", session.UserID))
	return session, nil
}

func (s *Service) maxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ IdentityProvider = (*GoTrueClient)(nil)
