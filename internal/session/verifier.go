package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/model"
)

// TokenVerifier はアクセストークンを検証し、対応するアカウントを返す。
// 無効なトークンには identity.ErrInvalidToken を返す。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Account, error)
}

// VerifierFunc は関数をTokenVerifierとして扱うアダプター。
type VerifierFunc func(ctx context.Context, token string) (*model.Account, error)

// Verify はTokenVerifierを実装する。
func (f VerifierFunc) Verify(ctx context.Context, token string) (*model.Account, error) {
	return f(ctx, token)
}

// ProviderVerifier は識別プロバイダーに問い合わせてトークンを検証する。
func ProviderVerifier(p identity.Provider) TokenVerifier {
	return VerifierFunc(p.VerifyToken)
}

// --- JWT ---

// supabaseClaims はSupabaseが発行するアクセストークンのクレーム。
type supabaseClaims struct {
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// JWTVerifier はHS256で署名されたアクセストークンをローカルで検証する。
// Supabaseのプロジェクト固有のJWTシークレットを使う。
type JWTVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

// NewJWTVerifier はJWTVerifierを生成する。audienceが空の場合は検証しない。
func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience, leeway: 30 * time.Second}
}

// Verify は署名と有効期限を検証し、クレームからアカウントを組み立てる。
func (v *JWTVerifier) Verify(_ context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, identity.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &supabaseClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", identity.ErrInvalidToken)
	}

	account := &model.Account{
		ID:    claims.Subject,
		Email: claims.Email,
	}
	if role, ok := claims.UserMetadata["role"].(string); ok {
		account.Role = model.Role(role)
	}
	if name, ok := claims.UserMetadata["full_name"].(string); ok {
		account.FullName = name
	}
	return account, nil
}

// --- Cache ---

// defaultVerifyTimeout は共有される検証呼び出し1回あたりの上限時間。
const defaultVerifyTimeout = 10 * time.Second

// cacheEntry はキャッシュされた検証結果。
type cacheEntry struct {
	account   model.Account
	expiresAt time.Time
}

// CachedVerifier は検証成功結果をTTL付きでキャッシュするTokenVerifier。
// 同一トークンへの同時検証はsingleflightで1回にまとめる。
// まとめた呼び出しは最初の呼び出し元のキャンセルに影響されない。
// 失敗結果はキャッシュしない。
type CachedVerifier struct {
	next    TokenVerifier
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	now     func() time.Time
	onEvent func(result string)

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewCachedVerifier はCachedVerifierを生成する。
// onEventには cache_hit / valid / invalid / error が通知される（nil可）。
func NewCachedVerifier(next TokenVerifier, ttl time.Duration, onEvent func(result string)) *CachedVerifier {
	if onEvent == nil {
		onEvent = func(string) {}
	}
	return &CachedVerifier{
		next:    next,
		ttl:     ttl,
		timeout: defaultVerifyTimeout,
		now:     time.Now,
		onEvent: onEvent,
		entries: make(map[string]*cacheEntry),
	}
}

// Verify はキャッシュを参照し、無ければ下位の検証器に問い合わせる。
func (c *CachedVerifier) Verify(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, identity.ErrInvalidToken
	}

	if account, ok := c.get(token); ok {
		c.onEvent("cache_hit")
		return account, nil
	}

	ch := c.group.DoChan(token, func() (interface{}, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		account, err := c.next.Verify(vctx, token)
		if err != nil {
			return nil, err
		}
		c.set(token, *account)
		return account, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			c.onEvent("invalid")
		} else {
			c.onEvent("error")
		}
		return nil, err
	}

	c.onEvent("valid")
	account := *v.(*model.Account)
	return &account, nil
}

func (c *CachedVerifier) get(token string) (*model.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[token]
	if !found || c.now().After(entry.expiresAt) {
		return nil, false
	}
	account := entry.account
	return &account, true
}

func (c *CachedVerifier) set(token string, account model.Account) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[token] = &cacheEntry{account: account, expiresAt: c.now().Add(c.ttl)}
}

// Cleanup は期限切れのエントリを削除する。
func (c *CachedVerifier) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for token, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, token)
		}
	}
}

// Len はキャッシュ中のエントリ数を返す。
func (c *CachedVerifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleanup は定期的に期限切れエントリを削除する。ctxの終了で停止する。
func (c *CachedVerifier) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// compile-time interface check
var (
	_ TokenVerifier = (*JWTVerifier)(nil)
	_ TokenVerifier = (*CachedVerifier)(nil)
	_ TokenVerifier = VerifierFunc(nil)
)
