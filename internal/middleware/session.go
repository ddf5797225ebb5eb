// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gdmcare/internal/auth"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal はセッションCookieから解決されたリクエストの主体。
// presenceモードではAccountのIDとEmailは空になる。
type Principal struct {
	Token    string
	Role     model.Role
	Account  *model.Account
	Verified bool
}

// AccountID は監査ログやレート制限のキーに使うアカウントIDを返す。
func (p *Principal) AccountID() string {
	if p == nil || p.Account == nil {
		return ""
	}
	return p.Account.ID
}

// SessionResolver はリクエストのCookieからセッションを解決する。
// verifierがnilの場合はCookieの存在のみで判定する（presenceモード）。
type SessionResolver struct {
	verifier session.TokenVerifier
}

// NewSessionResolver はSessionResolverを生成する。
func NewSessionResolver(verifier session.TokenVerifier) *SessionResolver {
	return &SessionResolver{verifier: verifier}
}

// Verifies はトークン検証を行うモードかどうかを返す。
func (s *SessionResolver) Verifies() bool {
	return s != nil && s.verifier != nil
}

// ErrNoSession はCookieもBearerトークンも無い、またはトークンが無効な場合のエラー。
var ErrNoSession = errors.New("middleware: no session")

// Resolve はセッションを解決する。okがfalseの場合は未認証として扱う。
func (s *SessionResolver) Resolve(r *http.Request) (*Principal, bool) {
	principal, err := s.ResolveErr(r)
	return principal, err == nil
}

// ResolveErr はセッションを解決する。
// セッションが無い場合は ErrNoSession を、プロバイダー障害などで検証できない場合は
// 検証器のエラーをそのまま返す。
// verifyモードでは検証済みアカウントのロールを採用し、ロールCookieは参照しない。
// Cookieが無い場合はAuthorizationヘッダーのBearerトークンも受け付ける。
func (s *SessionResolver) ResolveErr(r *http.Request) (*Principal, error) {
	token, role, ok := session.Read(r)
	if !ok {
		token = session.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			return nil, ErrNoSession
		}
		role = model.DefaultRole
	}

	if !s.Verifies() {
		return &Principal{Token: token, Role: role, Account: &model.Account{Role: role}}, nil
	}

	account, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, ErrNoSession
		}
		slog.Warn("token verification failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	account.Role = auth.ResolveRole(account)
	return &Principal{Token: token, Role: account.Role, Account: account, Verified: true}, nil
}

// IsUnavailable はResolveErrのエラーがセッション不在ではなく検証不能を表すかを返す。
func IsUnavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrNoSession)
}

// MsgAuthUnavailable はトークンを検証できない場合のメッセージ。
const MsgAuthUnavailable = "Authentication service is temporarily unavailable. Please try again later."

// NewRequireSession はAPI向けの認証ミドルウェアを返す。
// 未認証リクエストには401と {"error":"Not authenticated"} を、
// プロバイダー障害で検証できない場合は503を返す。
// 認証済みの主体をリクエストコンテキストに注入する。
func NewRequireSession(resolver *SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.ResolveErr(r)
			if IsUnavailable(err) {
				WriteJSONError(w, http.StatusServiceUnavailable, MsgAuthUnavailable)
				return
			}
			if err != nil {
				WriteJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			annotateLog(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// NewRequireRole は指定ロール以外を403で拒否するミドルウェアを返す。
// NewRequireSession の後に配置する。
func NewRequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(principal.Role))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから主体を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
