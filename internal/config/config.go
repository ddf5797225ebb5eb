package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 識別プロバイダーの種別。
const (
	IdentityProviderSupabase = "supabase"
	IdentityProviderKratos   = "kratos"
)

// ルートガードの動作モード。
const (
	// GuardModePresence はセッションCookieの存在のみで認証済みとみなす。
	GuardModePresence = "presence"
	// GuardModeVerify はセッションCookieのトークンを検証してから認証済みとみなす。
	GuardModeVerify = "verify"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string
	LogLevel string

	// Identity provider
	IdentityProvider  string
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	KratosPublicURL   string
	ProviderTimeout   time.Duration

	// Site
	SiteURL     string
	FrontendURL string

	// Session
	SessionMaxAge int
	GuardMode     string
	TokenCacheTTL time.Duration

	// Chat
	ChatModel   string
	ChatAPIKey  string
	ChatBaseURL string

	// Database（監査ログ用、任意）
	DatabaseURL        string
	AuditRetentionDays int

	// Education
	EducationFeedURL      string
	EducationFeedTTL      time.Duration
	EducationFetchTimeout time.Duration
	EducationFetchMaxSize int64
	EgressGuard           bool

	// Rate Limit
	RateLimitAuth int
	RateLimitChat int

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS / CSRF
	CORSAllowedOrigin string
	CSRFEnabled       bool
}

// IsDevelopment はローカル開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// LoadDotEnv はカレントディレクトリの.envファイルを読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load dotenv: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 必須項目は選択された識別プロバイダーによって変わる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.IdentityProvider = strings.ToLower(getEnvString("IDENTITY_PROVIDER", IdentityProviderSupabase))
	cfg.GuardMode = strings.ToLower(getEnvString("GUARD_MODE", GuardModeVerify))

	// Required fields
	var missing []string

	switch cfg.IdentityProvider {
	case IdentityProviderSupabase:
		cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
		if cfg.SupabaseAnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	case IdentityProviderKratos:
		cfg.KratosPublicURL = strings.TrimRight(os.Getenv("KRATOS_PUBLIC_URL"), "/")
		if cfg.KratosPublicURL == "" {
			missing = append(missing, "KRATOS_PUBLIC_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported IDENTITY_PROVIDER: %q (allowed: %s, %s)",
			cfg.IdentityProvider, IdentityProviderSupabase, IdentityProviderKratos)
	}

	switch cfg.GuardMode {
	case GuardModePresence, GuardModeVerify:
	default:
		return nil, fmt.Errorf("unsupported GUARD_MODE: %q (allowed: %s, %s)",
			cfg.GuardMode, GuardModePresence, GuardModeVerify)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SupabaseJWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.SiteURL = strings.TrimRight(getEnvString("SITE_URL", "http://localhost:3000"), "/")
	cfg.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", ""), "/")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 30*24*60*60)
	cfg.TokenCacheTTL = getEnvDuration("TOKEN_CACHE_TTL", time.Minute)
	cfg.ChatModel = getEnvString("CHAT_MODEL", "gpt-4o-mini")
	cfg.ChatAPIKey = getEnvString("CHAT_API_KEY", "")
	cfg.ChatBaseURL = getEnvString("CHAT_BASE_URL", "")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.AuditRetentionDays = getEnvInt("AUDIT_RETENTION_DAYS", 90)
	cfg.EducationFeedURL = getEnvString("EDUCATION_FEED_URL", "")
	cfg.EducationFeedTTL = getEnvDuration("EDUCATION_FEED_TTL", time.Hour)
	cfg.EducationFetchTimeout = getEnvDuration("EDUCATION_FETCH_TIMEOUT", 10*time.Second)
	cfg.EducationFetchMaxSize = getEnvInt64("EDUCATION_FETCH_MAX_SIZE", 2097152)
	cfg.EgressGuard = getEnvBool("EGRESS_GUARD", true)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitChat = getEnvInt("RATE_LIMIT_CHAT", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = !cfg.IsDevelopment()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", false)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
