// Package session はCookieによるセッションの発行・読み取りとアクセストークンの検証を提供する。
// サーバー側にセッションは保存せず、2つのCookieのみで状態を表す。
package session

import (
	"net/http"
	"time"

	"github.com/hitoshi/gdmcare/internal/model"
)

// Cookie名。
const (
	// TokenCookieName はアクセストークンを保持するHttpOnly Cookie。
	TokenCookieName = "auth_token"
	// RoleCookieName はクライアントから読み取れるロールCookie。
	RoleCookieName = "user_role"
)

// DefaultMaxAge はCookieの既定の有効期間（30日、秒）。
const DefaultMaxAge = 30 * 24 * 60 * 60

// IssuerConfig はCookie属性の設定。
type IssuerConfig struct {
	// Secure は本番環境でtrueにする。
	Secure bool
	Domain string
	// MaxAge は秒。0以下の場合は DefaultMaxAge。
	MaxAge int
}

// Issuer はセッションCookieの発行と削除を行う。
type Issuer struct {
	config IssuerConfig
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(config IssuerConfig) *Issuer {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	return &Issuer{config: config, now: time.Now}
}

// Issue はアクセストークンとロールの2つのCookieを設定し、発行したセッションを返す。
// トークンCookieはHttpOnly、ロールCookieはページのスクリプトから読めるようにする。
func (i *Issuer) Issue(w http.ResponseWriter, token string, role model.Role) *model.Session {
	if role == "" {
		role = model.DefaultRole
	}

	http.SetCookie(w, i.cookie(TokenCookieName, token, true, i.config.MaxAge))
	http.SetCookie(w, i.cookie(RoleCookieName, string(role), false, i.config.MaxAge))

	return &model.Session{
		AccessToken: token,
		Role:        role,
		ExpiresAt:   i.now().Add(time.Duration(i.config.MaxAge) * time.Second),
	}
}

// Clear は2つのCookieを失効させる。
func (i *Issuer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, i.cookie(TokenCookieName, "", true, -1))
	http.SetCookie(w, i.cookie(RoleCookieName, "", false, -1))
}

func (i *Issuer) cookie(name, value string, httpOnly bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   i.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   i.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Read はリクエストのCookieからトークンとロールを読み取る。
// トークンが無い場合はokがfalse。ロールCookieが無いか不明な値の場合はpatientを返す。
func Read(r *http.Request) (token string, role model.Role, ok bool) {
	c, err := r.Cookie(TokenCookieName)
	if err != nil || c.Value == "" {
		return "", "", false
	}
	return c.Value, ReadRole(r), true
}

// ReadRole はロールCookieを読み取る。
func ReadRole(r *http.Request) model.Role {
	c, err := r.Cookie(RoleCookieName)
	if err != nil {
		return model.DefaultRole
	}
	if role, ok := model.ParseRole(c.Value); ok {
		return role
	}
	return model.DefaultRole
}
