package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          *middleware.SessionResolver
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	// CSRF がnilの場合はCSRF検証を行わない。
	CSRF   *middleware.CSRFConfig
	Logger *slog.Logger

	// メトリクス。MetricsHandler がnilの場合は /metrics を公開しない。
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	Issuer      *session.Issuer

	// チャット
	ChatRelay     ChatRelay
	AuditRecorder audit.Recorder

	// 学習コンテンツ
	Reading ReadingSource

	// ページとヘルスチェック
	Pages         http.Handler
	HealthChecker HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → RequestID → Logging → SecurityHeaders → CORS → Metrics
//
// ページルートにはRoute Guard、/api の保護ルートにはRequireSessionを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := deps.Pages
	if pages == nil {
		pages = http.HandlerFunc(servePlaceholder)
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(collector))

	authHandler := NewAuthHandler(deps.AuthService, deps.Issuer, deps.Resolver, collector)
	chatHandler := NewChatHandler(deps.ChatRelay, deps.AuditRecorder, collector)
	educationHandler := NewEducationHandler(deps.Reading)
	dashboardHandler := NewDashboardHandler()

	csrf := passthrough
	if deps.CSRF != nil {
		csrf = middleware.NewCSRFMiddleware(*deps.CSRF)
	}

	// --- 運用ルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.CSRF != nil {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF).ServeHTTP)
		}

		// --- 認証API（セッション不要） ---
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.SignUp)
			r.Get("/verify", authHandler.Verify)
			r.With(csrf).Post("/logout", authHandler.Logout)
		})

		// --- 学習コンテンツ（公開） ---
		r.Route("/education", func(r chi.Router) {
			r.Get("/modules", educationHandler.Modules)
			r.Get("/reading", educationHandler.Reading)
		})

		// --- セッションが必要なAPI ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSession(deps.Resolver))

			r.With(deps.RateLimiter.ChatMiddleware(), csrf).Post("/chat", chatHandler.Chat)
			r.Get("/dashboard", dashboardHandler.Overview)
			r.Get("/suggestions", dashboardHandler.Suggestions)
			r.With(middleware.NewRequireRole(model.RoleDoctor, model.RoleNurse)).Get("/patients", dashboardHandler.Patients)
		})
	})

	// --- ページ（Route Guard配下） ---
	guard := middleware.NewGuard(deps.Resolver, collector, logger)
	r.Group(func(r chi.Router) {
		r.Use(guard.Middleware())
		r.Handle("/", pages)
		r.Handle("/*", pages)
	})

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}
