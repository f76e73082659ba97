package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/codex/internal/activity"
	"github.com/hitoshi/codex/internal/apiclient"
	"github.com/hitoshi/codex/internal/auth"
	"github.com/hitoshi/codex/internal/config"
	"github.com/hitoshi/codex/internal/database"
	"github.com/hitoshi/codex/internal/discover"
	"github.com/hitoshi/codex/internal/gate"
	"github.com/hitoshi/codex/internal/group"
	"github.com/hitoshi/codex/internal/handler"
	"github.com/hitoshi/codex/internal/library"
	"github.com/hitoshi/codex/internal/logger"
	"github.com/hitoshi/codex/internal/metrics"
	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/profile"
	"github.com/hitoshi/codex/internal/proxy"
	"github.com/hitoshi/codex/internal/repository"
	"github.com/hitoshi/codex/internal/security"
	"github.com/hitoshi/codex/internal/storage"
	"github.com/hitoshi/codex/internal/view"
	"github.com/hitoshi/codex/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/codex/internal/worker/fetch"
)

// schedulerTick は取得時刻を迎えたソースを確認する間隔。
// ソースごとの取得間隔はDISCOVER_INTERVALとバックオフで決まる。
const schedulerTick = time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はプロセス情報とGoランタイムの指標を含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	groupRepo := repository.NewPostgresGroupRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)
	badgeRepo := repository.NewPostgresBadgeRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	discoverRepo := repository.NewPostgresDiscoverRepo(db)

	// 4. 操作履歴の記録と通知
	var publisher activity.Publisher
	if cfg.NATSURL != "" {
		nc, err := activity.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		publisher = activity.NewNATSPublisher(nc, cfg.NATSSubjectPrefix)
		slog.Info("activity notifications enabled", slog.String("subject_prefix", cfg.NATSSubjectPrefix))
	}
	recorder := activity.NewRecorder(activityRepo, publisher)

	// 5. 外部サービスのクライアント
	idp := auth.NewGoTrueClient(auth.GoTrueConfig{
		SupabaseURL: cfg.SupabaseURL,
		AnonKey:     cfg.SupabaseAnonKey,
		Timeout:     cfg.APITimeout,
		Observer:    collector,
	})
	api := apiclient.NewClient(apiclient.Config{
		BaseURL:  cfg.APIBaseURL,
		Timeout:  cfg.APITimeout,
		Observer: collector,
	})
	objects := storage.NewClient(storage.Config{
		StorageURL: cfg.StorageURL,
		AnonKey:    cfg.SupabaseAnonKey,
		Timeout:    cfg.APITimeout,
		Observer:   collector,
	})
	apiProxy, err := proxy.New(cfg.APIBaseURL, cfg.APITimeout, collector)
	if err != nil {
		return fmt.Errorf("failed to create api proxy: %w", err)
	}

	// 6. ドメインサービスの初期化
	authService := auth.NewService(idp, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BaseURL:       cfg.BaseURL,
	})
	groupService := group.NewService(groupRepo, api, objects, recorder)
	libraryService := library.NewService(api, recorder)
	profileService := profile.NewService(profileRepo, statsRepo, badgeRepo, objects, recorder, cfg.AvatarSize)
	discoverService := discover.NewService(discoverRepo)

	// 7. アクセス方針とセッションゲート
	gateStore, err := newGateStore(ctx, cfg.GatePolicyFile)
	if err != nil {
		return err
	}
	sessionGate := middleware.NewSessionGate(authService, gateStore, middleware.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}, collector)

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer rateLimiter.Stop()

	renderer, err := view.New()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		Gate: sessionGate,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPObserver:      collector,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		Renderer: renderer,
		Flash:    handler.NewFlashStore(cfg.SessionSecret, cfg.CookieSecure),

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},
		Usernames:   profileService,

		Dashboard: handler.NewDashboardServiceAdapter(profileService, libraryService, recorder),
		Discover:  discoverService,
		Groups:    groupService,
		Library:   libraryService,
		Profile:   profileService,

		APIProxy: apiProxy,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "web server")
}

// newGateStore はアクセス方針を読み込んだStoreを返す。
// ファイルが指定されている場合は変更を監視し、ctxの終了まで反映し続ける。
func newGateStore(ctx context.Context, path string) (*gate.Store, error) {
	if path == "" {
		return gate.NewStore(nil), nil
	}

	policy, err := gate.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	store := gate.NewStore(policy)

	watcher, err := gate.NewWatcher(path, store, slog.Default())
	if err != nil {
		return nil, err
	}
	go watcher.Run(ctx)

	slog.Info("gate policy loaded", slog.String("path", path))
	return store, nil
}

// serveUntilDone はサーバーを起動し、ctxの終了でグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 発見フィードの取得スケジューラとクリーンアップジョブを起動し、
// メトリクスを公開する。SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリとセキュリティ部品の初期化
	discoverRepo := repository.NewPostgresDiscoverRepo(db)
	cleanupRepo := repository.NewPostgresCleanupRepo(db)
	guard := security.NewURLGuard()
	sanitizer := security.NewSanitizer()

	// 4. フェッチャーとスケジューラ
	resolver := discover.NewResolver(guard, cfg.FetchTimeout, cfg.FetchMaxSize)
	fetcher := fetchpkg.NewFetcher(
		discoverRepo, resolver, guard, sanitizer, collector,
		slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize, cfg.DiscoverInterval,
	)
	scheduler := fetchpkg.NewScheduler(
		fetchpkg.NewSources(cfg.DiscoverFeeds), fetcher, slog.Default(), cfg.FetchMaxConcurrent,
	)

	// 5. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(cleanupRepo, slog.Default())
	cleanupJob.DiscoverRetentionDays = cfg.DiscoverRetentionDays
	cleanupJob.ActivityRetentionDays = cfg.ActivityRetentionDays

	slog.Info("worker starting",
		slog.Duration("discover_interval", cfg.DiscoverInterval),
		slog.Int("sources", len(cfg.DiscoverFeeds)),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// 6. メトリクスとヘルスチェックの公開
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, server, "worker metrics server"); err != nil {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanup.Interval)

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	if len(cfg.DiscoverFeeds) == 0 {
		slog.Warn("DISCOVER_FEEDS is empty; only the cleanup job will run")
		<-ctx.Done()
	} else {
		scheduler.Start(ctx, schedulerTick)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// defaultPort はSERVER_PORTが未設定の場合に8080を返す。
func defaultPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}
