package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/view"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Gate              *middleware.SessionGate
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPObserver      middleware.HTTPObserver
	Logger            *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ページ描画
	Renderer *view.Renderer
	Flash    *FlashStore

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	Usernames   UsernameChecker

	// ページのサービス
	Dashboard DashboardServiceInterface
	Discover  DiscoverServiceInterface
	Groups    GroupServiceInterface
	Library   LibraryServiceInterface
	Profile   ProfileServiceInterface

	// /api/* の転送先
	APIProxy http.Handler
}

// NewRouter は全ページとAPIプロキシのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → SessionGate → CSRF → RateLimit(General)
//
// /health, /metrics, /static/* はゲートの外に配置する。
// 変更系のPOSTには更新用のレート制限を追加し、/api/* にはCORSを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPObserver != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPObserver))
	}

	pages := NewPages(deps.Renderer, deps.Flash)
	authHandler := NewAuthHandler(pages, deps.AuthService, deps.Usernames, deps.Groups, deps.Gate, deps.AuthConfig)
	dashboardHandler := NewDashboardHandler(pages, deps.Dashboard, deps.Discover)
	groupHandler := NewGroupHandler(pages, deps.Groups)
	libraryHandler := NewLibraryHandler(pages, deps.Library)
	profileHandler := NewProfileHandler(pages, deps.Profile)

	// --- ゲート対象外のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", view.StaticHandler())

	// --- ゲート対象のルート ---
	// ミドルウェアスタック: SessionGate → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Middleware)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		mutation := deps.RateLimiter.MutationMiddleware()

		r.Get("/", authHandler.Landing)

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.LoginPage)
			r.With(mutation).Post("/login", authHandler.Login)
			r.Get("/login/google", authHandler.GoogleLogin)
			r.Get("/callback", authHandler.Callback)
			r.Get("/auth-code-error", authHandler.AuthCodeError)

			r.Get("/signup", authHandler.SignupPage)
			r.With(mutation).Post("/signup", authHandler.Signup)
			r.Get("/signup/check-username", authHandler.CheckUsername)

			r.Get("/forgot-password", authHandler.ForgotPasswordPage)
			r.With(mutation).Post("/forgot-password", authHandler.ForgotPassword)
			r.Get("/reset-password", authHandler.ResetPasswordPage)
			r.With(mutation).Post("/reset-password", authHandler.ResetPassword)

			r.Get("/invite", authHandler.Invite)
			r.Post("/logout", authHandler.Logout)
		})

		r.Get("/dashboard", dashboardHandler.Dashboard)
		r.Get("/discover", dashboardHandler.Discover)

		// 読書グループ
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupHandler.List)
			r.With(mutation).Post("/join", groupHandler.Join)
			r.Get("/create", groupHandler.CreatePage)
			r.With(mutation).Post("/create", groupHandler.Create)
			r.Get("/invite", groupHandler.InvitePage)
			r.With(mutation).Post("/invite", groupHandler.Invite)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/edit", groupHandler.EditPage)
				r.With(mutation).Post("/edit", groupHandler.Edit)
				r.With(mutation).Post("/delete", groupHandler.Delete)
				r.With(mutation).Post("/regenerate-code", groupHandler.RegenerateCode)
				r.With(mutation).Post("/leave", groupHandler.Leave)
			})
		})

		// 本棚
		r.Route("/library", func(r chi.Router) {
			r.Get("/", libraryHandler.List)
			r.Get("/add-book", libraryHandler.AddBookPage)
			r.With(mutation).Post("/add-book", libraryHandler.AddFromSearch)
			r.With(mutation).Post("/add-book/manual", libraryHandler.AddManual)
		})
		r.Get("/reviews", libraryHandler.Reviews)

		// プロフィール
		r.Get("/profile", profileHandler.Show)
		r.With(mutation).Post("/profile", profileHandler.Update)
		r.With(mutation).Post("/profile/avatar", profileHandler.UploadAvatar)

		// 外部REST API
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
			if deps.APIProxy != nil {
				r.Handle("/*", deps.APIProxy)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pages.renderError(w, r, http.StatusNotFound, "ページが見つかりません。")
	})

	return r
}

// healthHandler はDBへの疎通を確認し、結果をJSONで返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
