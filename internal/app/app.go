package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/auth"
	"github.com/hitoshi/gdmcare/internal/chat"
	"github.com/hitoshi/gdmcare/internal/config"
	"github.com/hitoshi/gdmcare/internal/database"
	"github.com/hitoshi/gdmcare/internal/education"
	"github.com/hitoshi/gdmcare/internal/handler"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/logger"
	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/security"
	"github.com/hitoshi/gdmcare/internal/session"
	"github.com/hitoshi/gdmcare/internal/worker/cleanup"
)

const (
	// tokenCacheCleanupInterval は検証済みトークンキャッシュの掃除間隔。
	tokenCacheCleanupInterval = 5 * time.Minute
	// auditCleanupInterval は監査ログの保持期間切れ削除の実行間隔。
	auditCleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルの読み込み（存在する場合のみ）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("identity_provider", cfg.IdentityProvider),
		slog.String("guard_mode", cfg.GuardMode),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router, closeAll, err := buildRouter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// チャット中継はストリームごとに書き込み期限を解除する
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter は設定から依存関係を組み立て、ルーターと後始末関数を返す。
// ctxがキャンセルされるとバックグラウンドの掃除処理も停止する。
func buildRouter(ctx context.Context, cfg *config.Config) (http.Handler, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 監査ログ用DB接続（任意）
	recorder, db, err := openAuditStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		closers = append(closers, func() { db.Close() })
		go cleanup.NewCleanupJob(db, slog.Default(), cfg.AuditRetentionDays).Start(ctx, auditCleanupInterval)
	}

	// 3. 識別プロバイダーとセッション
	provider, err := newProvider(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	verifier := newVerifier(ctx, cfg, provider, collector)
	authService := auth.NewService(provider, recorder, auth.ServiceConfig{SiteURL: cfg.SiteURL})
	issuer := session.NewIssuer(session.IssuerConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	})

	// 4. セキュリティ
	sanitizer := security.NewContentSanitizer()
	egressGuard := security.NewEgressGuard(cfg.EgressGuard)

	// 5. ドメインサービス
	relay := chat.NewRelay(chat.NewClient(cfg.ChatAPIKey, cfg.ChatBaseURL), sanitizer, chat.RelayConfig{Model: cfg.ChatModel})
	reader := education.NewReader(education.ReaderConfig{
		FeedURL: cfg.EducationFeedURL,
		TTL:     cfg.EducationFeedTTL,
		Timeout: cfg.EducationFetchTimeout,
		MaxSize: cfg.EducationFetchMaxSize,
	}, egressGuard, sanitizer, collector)

	pages, err := handler.NewPageHandler(cfg.FrontendURL)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	// 6. ミドルウェア
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitChat))
	closers = append(closers, rateLimiter.Stop)

	deps := &handler.RouterDeps{
		Resolver:          middleware.NewSessionResolver(verifier),
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		Issuer:      issuer,

		ChatRelay:     relay,
		AuditRecorder: recorder,

		Reading: reader,
		Pages:   pages,
	}
	if db != nil {
		deps.HealthChecker = db
	}
	if cfg.CSRFEnabled {
		deps.CSRF = &middleware.CSRFConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		}
	}

	return handler.NewRouter(deps), closeAll, nil
}

// openAuditStore はDATABASE_URLが設定されている場合にPostgreSQLの監査レコーダーを返す。
// 未設定の場合は記録しないレコーダーとnilのDBを返す。
func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Recorder, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set, audit events are not persisted")
		return audit.NopRecorder{}, nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return audit.NewPostgresRecorder(db), db, nil
}

// newProvider は設定に応じた識別プロバイダーを生成する。
func newProvider(cfg *config.Config) (identity.Provider, error) {
	switch cfg.IdentityProvider {
	case config.IdentityProviderSupabase:
		return identity.NewSupabaseProvider(identity.SupabaseConfig{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
			Timeout: cfg.ProviderTimeout,
		}), nil
	case config.IdentityProviderKratos:
		return identity.NewKratosProvider(identity.KratosConfig{
			PublicURL: cfg.KratosPublicURL,
			Timeout:   cfg.ProviderTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider: %q", cfg.IdentityProvider)
	}
}

// newVerifier はガードモードに応じたトークン検証器を返す。
// presenceモードではnilを返し、Cookieの存在のみで判定させる。
// JWTシークレットが設定されている場合はローカル検証を行い、
// それ以外はプロバイダーに問い合わせる。どちらも結果をキャッシュする。
func newVerifier(ctx context.Context, cfg *config.Config, provider identity.Provider, collector metrics.MetricsCollector) session.TokenVerifier {
	if cfg.GuardMode == config.GuardModePresence {
		slog.Warn("guard mode is presence, session cookies are not verified")
		return nil
	}

	var next session.TokenVerifier
	if cfg.IdentityProvider == config.IdentityProviderSupabase && cfg.SupabaseJWTSecret != "" {
		next = session.NewJWTVerifier(cfg.SupabaseJWTSecret, "authenticated")
	} else {
		next = session.ProviderVerifier(provider)
	}

	cached := session.NewCachedVerifier(next, cfg.TokenCacheTTL, collector.RecordTokenVerification)
	cached.StartCleanup(ctx, tokenCacheCleanupInterval)
	return cached
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migration failed: DATABASE_URL is not set")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
