// Package identity はホスト型識別プロバイダー（Supabase Auth, Ory Kratos）との連携を提供する。
// パスワードのハッシュ化とアカウントの保存はプロバイダー側の責務で、このパッケージは
// サインイン、サインアップ、アクセストークンの検証のみを扱う。
package identity

import (
	"context"
	"errors"

	"github.com/hitoshi/gdmcare/internal/model"
)

// プロバイダー呼び出しの失敗を分類するセンチネルエラー。
var (
	// ErrMissingFields は必須入力が欠けている場合のエラー。
	ErrMissingFields = errors.New("identity: required fields are missing")
	// ErrWeakPassword はパスワードが最低長に満たない場合のエラー。
	ErrWeakPassword = errors.New("identity: password is too short")
	// ErrEmailNotConfirmed はメールアドレスが未確認の場合のエラー。
	ErrEmailNotConfirmed = errors.New("identity: email not confirmed")
	// ErrInvalidCredentials は資格情報が誤っている場合のエラー。
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrSignUpRejected はプロバイダーがサインアップを拒否した場合のエラー。
	ErrSignUpRejected = errors.New("identity: sign up rejected")
	// ErrProviderUnavailable はプロバイダーに到達できない、または5xxを返した場合のエラー。
	ErrProviderUnavailable = errors.New("identity: provider unavailable")
	// ErrInvalidToken はアクセストークンが無効または期限切れの場合のエラー。
	ErrInvalidToken = errors.New("identity: invalid token")
)

// MinPasswordLength はサインアップ時のパスワード最低長。
const MinPasswordLength = 6

// ProviderError はプロバイダーが返したユーザー向けメッセージを保持するエラー。
// Kind にはセンチネルエラーを設定し、errors.Is で分類する。
type ProviderError struct {
	Kind    error
	Message string
	Status  int
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Unwrap はセンチネルエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// ProviderMessage はエラーチェーン中のProviderErrorのメッセージを返す。
// 見つからない場合は空文字を返す。
func ProviderMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return ""
}

// SignInResult はサインイン成功時の結果。
type SignInResult struct {
	Account     *model.Account
	AccessToken string
}

// SignUpRequest はサインアップの入力。
// Role と FullName はアカウントのメタデータとして保存される。
type SignUpRequest struct {
	Email       string
	Password    string
	FullName    string
	Role        model.Role
	RedirectURL string
}

// Provider はホスト型識別プロバイダーのインターフェース。
type Provider interface {
	// SignIn はメールアドレスとパスワードで認証し、アクセストークンを返す。
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
	// SignUp はアカウントを登録する。確認メールのリダイレクト先を含む。
	SignUp(ctx context.Context, req SignUpRequest) (*model.Account, error)
	// VerifyToken はアクセストークンを検証し、対応するアカウントを返す。
	VerifyToken(ctx context.Context, token string) (*model.Account, error)
}

// metadataRole はメタデータ中のロール値をそのまま取り出す。
// 妥当性の判定は呼び出し側で行う。
func metadataRole(meta map[string]interface{}) model.Role {
	if meta == nil {
		return ""
	}
	if s, ok := meta["role"].(string); ok {
		return model.Role(s)
	}
	return ""
}

func metadataString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
