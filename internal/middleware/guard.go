package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/gdmcare/internal/metrics"
)

// GuardDecision はルートガードの判定結果。
type GuardDecision string

// ルートガードの判定。
const (
	GuardAllowed           GuardDecision = "allowed"
	GuardRedirectLogin     GuardDecision = "redirect_login"
	GuardRedirectDashboard GuardDecision = "redirect_dashboard"
	GuardUnavailable       GuardDecision = "unavailable"
)

// ページのパス。
const (
	LoginPath     = "/auth/login"
	SignupPath    = "/auth/signup"
	DashboardPath = "/dashboard"
)

// publicPrefixes はセッションなしで閲覧できるページのプレフィックス。
// "/" は完全一致でのみ公開する。
var publicPrefixes = []string{LoginPath, SignupPath, "/education"}

// assetPrefixes はガードの対象外とする静的アセットのパス。
var assetPrefixes = []string{"/_next/static/", "/_next/image", "/favicon.ico"}

// Guard はページリクエストをセッションの有無で許可またはリダイレクトする。
type Guard struct {
	resolver *SessionResolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewGuard はGuardを生成する。resolverがトークン検証を行う場合、無効なCookieはCookieなしと同様に扱う。
func NewGuard(resolver *SessionResolver, collector metrics.MetricsCollector, logger *slog.Logger) *Guard {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, metrics: collector, logger: logger}
}

// Decide はリクエストに対する判定とリダイレクト先を返す。
// 判定は次の順に評価する。
//  1. セッションありで認証ページ（/auth/ 配下） → ダッシュボードへ
//  2. 公開ページ → 許可
//  3. セッションなし → ログインページへ
//  4. それ以外 → 許可
//
// トークンを検証できない場合、公開ページは許可し、それ以外は503とする。
func (g *Guard) Decide(r *http.Request) (GuardDecision, string) {
	path := r.URL.Path
	if isAsset(path) {
		return GuardAllowed, ""
	}

	principal, err := g.resolver.ResolveErr(r)
	if IsUnavailable(err) {
		if isPublicPage(path) {
			return GuardAllowed, ""
		}
		return GuardUnavailable, ""
	}
	hasSession := err == nil
	if hasSession {
		annotateLog(r.Context(), principal)
	}

	switch {
	case hasSession && isAuthPage(path):
		return GuardRedirectDashboard, DashboardPath
	case isPublicPage(path):
		return GuardAllowed, ""
	case !hasSession:
		return GuardRedirectLogin, LoginPath
	default:
		return GuardAllowed, ""
	}
}

// Middleware はページルートに適用するミドルウェアを返す。
func (g *Guard) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, location := g.Decide(r)
			g.metrics.RecordGuardDecision(string(decision))
			g.logger.Debug("route guard",
				slog.String("path", r.URL.Path),
				slog.String("decision", string(decision)),
				slog.Bool("verify", g.resolver.Verifies()),
			)

			switch decision {
			case GuardAllowed:
			case GuardUnavailable:
				w.Header().Set("Retry-After", "30")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			default:
				http.Redirect(w, r, location, http.StatusTemporaryRedirect)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAuthPage(path string) bool {
	return strings.HasPrefix(path, "/auth/")
}

func isPublicPage(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range publicPrefixes {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAsset(path string) bool {
	for _, prefix := range assetPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// hasPathPrefix はパスがprefixそのものか、prefix配下のパスかを判定する。
// "/educationfoo" のような前方一致は公開扱いにしない。
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}
