package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/gdmcare/internal/config"
	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/session"
)

func testConfig(mode string) *config.Config {
	return &config.Config{
		AppEnv:                "development",
		IdentityProvider:      config.IdentityProviderSupabase,
		SupabaseURL:           "http://127.0.0.1:1",
		SupabaseAnonKey:       "anon",
		ProviderTimeout:       time.Second,
		SiteURL:               "http://localhost:3000",
		SessionMaxAge:         session.DefaultMaxAge,
		GuardMode:             mode,
		TokenCacheTTL:         time.Minute,
		ChatModel:             "gpt-4o-mini",
		EducationFeedTTL:      time.Hour,
		EducationFetchTimeout: time.Second,
		EducationFetchMaxSize: 1 << 20,
		EgressGuard:           true,
		RateLimitAuth:         10,
		RateLimitChat:         20,
		ServerPort:            "0",
		CORSAllowedOrigin:     "http://localhost:3000",
	}
}

func buildTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router, cleanup, err := buildRouter(ctx, cfg)
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	t.Cleanup(cleanup)
	return router
}

// TestBuildRouter_WiresOperationalRoutes はDBなしの構成でヘルスチェックとメトリクスが公開されることを検証する。
func TestBuildRouter_WiresOperationalRoutes(t *testing.T) {
	router := buildTestRouter(t, testConfig(config.GuardModeVerify))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", w.Code)
	}
	var health map[string]string
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %q, want ok", health["status"])
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in /metrics output")
	}
}

// TestBuildRouter_GuardMode はガードモードの設定が偽造Cookieの扱いに反映されることを検証する。
func TestBuildRouter_GuardMode(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		jwtSecret  string
		wantStatus int
	}{
		// presenceモードはCookieの存在のみで通過する
		{"presence", config.GuardModePresence, "", http.StatusOK},
		// JWTシークレットがあればローカル検証で偽造を検出し、ログインへ戻す
		{"verify_jwt", config.GuardModeVerify, "test-secret", http.StatusTemporaryRedirect},
		// 到達できないプロバイダーでは検証不能として503を返す
		{"verify_provider_down", config.GuardModeVerify, "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.mode)
			cfg.SupabaseJWTSecret = tt.jwtSecret
			router := buildTestRouter(t, cfg)

			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			req.AddCookie(&http.Cookie{Name: session.TokenCookieName, Value: "forged"})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestBuildRouter_CSRFEnabled はCSRF有効時にトークン取得エンドポイントが公開されることを検証する。
func TestBuildRouter_CSRFEnabled(t *testing.T) {
	cfg := testConfig(config.GuardModePresence)
	cfg.CSRFEnabled = true
	router := buildTestRouter(t, cfg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// TestBuildRouter_InvalidFrontendURL は不正なフロントエンドURLをエラーにすることを検証する。
func TestBuildRouter_InvalidFrontendURL(t *testing.T) {
	cfg := testConfig(config.GuardModePresence)
	cfg.FrontendURL = "://bad"

	if _, _, err := buildRouter(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid frontend URL")
	}
}

// TestNewProvider は設定に応じたプロバイダーの選択を検証する。
func TestNewProvider(t *testing.T) {
	for _, name := range []string{config.IdentityProviderSupabase, config.IdentityProviderKratos} {
		cfg := testConfig(config.GuardModeVerify)
		cfg.IdentityProvider = name
		cfg.KratosPublicURL = "http://127.0.0.1:4433"
		if p, err := newProvider(cfg); err != nil || p == nil {
			t.Errorf("%s: provider = %v, err = %v", name, p, err)
		}
	}

	cfg := testConfig(config.GuardModeVerify)
	cfg.IdentityProvider = "auth0"
	if _, err := newProvider(cfg); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

// TestNewVerifier はガードモードとJWTシークレットに応じた検証器の構成を検証する。
func TestNewVerifier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(config.GuardModePresence)
	provider, _ := newProvider(cfg)
	if v := newVerifier(ctx, cfg, provider, metrics.Nop{}); v != nil {
		t.Errorf("presence mode verifier = %T, want nil", v)
	}

	cfg = testConfig(config.GuardModeVerify)
	cfg.SupabaseJWTSecret = "test-secret"
	v := newVerifier(ctx, cfg, provider, metrics.Nop{})
	if _, ok := v.(*session.CachedVerifier); !ok {
		t.Fatalf("verifier = %T, want *session.CachedVerifier", v)
	}
	if _, err := v.Verify(ctx, "not-a-jwt"); err == nil {
		t.Error("expected malformed token to be rejected")
	}
}

// TestRunMigrate_RequiresDatabaseURL はDATABASE_URL未設定時にエラーを返すことを検証する。
func TestRunMigrate_RequiresDatabaseURL(t *testing.T) {
	if err := runMigrate(testConfig(config.GuardModeVerify)); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

// TestRunHealthcheck はヘルスチェックサブコマンドのステータス判定を検証する。
func TestRunHealthcheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer healthy.Close()

	port := healthy.URL[strings.LastIndex(healthy.URL, ":")+1:]
	if err := runHealthcheck(port); err != nil {
		t.Errorf("healthy server: %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	port = failing.URL[strings.LastIndex(failing.URL, ":")+1:]
	if err := runHealthcheck(port); err == nil {
		t.Error("expected error for 503 response")
	}
}
