// Package auth はログイン、サインアップ、ログアウトの業務ロジックを提供する。
// 入力検証はプロバイダー呼び出しの前に行い、認証イベントを監査ログに記録する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/model"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SiteURL は確認メールのリダイレクト先のベースURL。
	SiteURL string
}

// RequestMeta は監査ログに残すリクエスト情報。
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required,password"`
	FullName string `validate:"required"`
	Role     string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Account     *model.Account
	AccessToken string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider identity.Provider
	recorder audit.Recorder
	validate *validator.Validate
	config   ServiceConfig
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(provider identity.Provider, recorder audit.Recorder, config ServiceConfig) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		provider: provider,
		recorder: recorder,
		validate: newValidator(),
		config:   config,
	}
}

// newValidator はパスワード長のルールを登録したバリデーターを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) >= identity.MinPasswordLength
	})
	return v
}

// CallbackURL は確認メールのリダイレクト先を返す。
func (s *Service) CallbackURL() string {
	base := strings.TrimRight(s.config.SiteURL, "/")
	if base == "" {
		base = "http://localhost:3000"
	}
	return base + "/auth/callback"
}

// Login はメールアドレスとパスワードで認証する。
// 返却されるアカウントのロールは ResolveRole で確定済み。
func (s *Service) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, error) {
	if err := s.validateInput(in); err != nil {
		s.record(ctx, audit.ActionLogin, err, nil, in.Email, meta)
		return nil, err
	}

	result, err := s.provider.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		s.record(ctx, audit.ActionLogin, err, nil, in.Email, meta)
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	result.Account.Role = ResolveRole(result.Account)
	s.record(ctx, audit.ActionLogin, nil, result.Account, in.Email, meta)

	return &LoginResult{
		Account:     result.Account,
		AccessToken: result.AccessToken,
	}, nil
}

// SignUp はアカウントを登録する。ロール未指定または不明な値はpatientとして登録する。
func (s *Service) SignUp(ctx context.Context, in SignUpInput, meta RequestMeta) (*model.Account, error) {
	if err := s.validateInput(in); err != nil {
		s.record(ctx, audit.ActionSignUp, err, nil, in.Email, meta)
		return nil, err
	}

	role, ok := model.ParseRole(in.Role)
	if !ok {
		role = model.DefaultRole
	}

	account, err := s.provider.SignUp(ctx, identity.SignUpRequest{
		Email:       in.Email,
		Password:    in.Password,
		FullName:    in.FullName,
		Role:        role,
		RedirectURL: s.CallbackURL(),
	})
	if err != nil {
		s.record(ctx, audit.ActionSignUp, err, nil, in.Email, meta)
		return nil, fmt.Errorf("sign up failed: %w", err)
	}

	if account.Role == "" {
		account.Role = role
	}
	account.Role = ResolveRole(account)
	s.record(ctx, audit.ActionSignUp, nil, account, in.Email, meta)

	return account, nil
}

// Logout はログアウトを監査ログに記録する。
// サーバー側で無効化するセッションは存在しない。
func (s *Service) Logout(ctx context.Context, account *model.Account, meta RequestMeta) {
	s.record(ctx, audit.ActionLogout, nil, account, "", meta)
}

// ResolveRole はアカウントのロールを決定する。
// サインアップ時にメタデータへ保存したロールを優先し、無い場合や不明な値はpatientとする。
// 行レベル制限のあるプロフィールテーブルは参照しない。
func ResolveRole(account *model.Account) model.Role {
	if account == nil {
		return model.DefaultRole
	}
	if role, ok := model.ParseRole(string(account.Role)); ok {
		return role
	}
	return model.DefaultRole
}

// validateInput は構造体タグで入力を検証し、センチネルエラーに変換する。
// 必須項目の欠落はパスワード長より優先する。
func (s *Service) validateInput(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	weak := false
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			return identity.ErrMissingFields
		case "password":
			weak = true
		}
	}
	if weak {
		return identity.ErrWeakPassword
	}
	return identity.ErrMissingFields
}

// Outcome はエラーを監査ログとメトリクス用の結果ラベルに変換する。
func Outcome(err error) string {
	switch {
	case err == nil:
		return audit.OutcomeSuccess
	case errors.Is(err, identity.ErrMissingFields), errors.Is(err, identity.ErrWeakPassword):
		return audit.OutcomeInvalid
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		return audit.OutcomeEmailUnconfirmed
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrSignUpRejected):
		return audit.OutcomeRejected
	case errors.Is(err, identity.ErrProviderUnavailable):
		return audit.OutcomeProviderUnavailable
	default:
		return audit.OutcomeError
	}
}

// record は監査イベントを書き込む。書き込み失敗は処理を止めずにログに残す。
func (s *Service) record(ctx context.Context, action string, err error, account *model.Account, email string, meta RequestMeta) {
	event := audit.AuthEvent{
		Action:    action,
		Outcome:   Outcome(err),
		Email:     email,
		ClientIP:  meta.ClientIP,
		UserAgent: meta.UserAgent,
	}
	if account != nil {
		event.AccountID = account.ID
		event.Role = string(account.Role)
		if event.Email == "" {
			event.Email = account.Email
		}
	}

	if recErr := s.recorder.RecordAuth(ctx, event); recErr != nil {
		slog.Warn("failed to record auth event",
			slog.String("action", action),
			slog.String("error", recErr.Error()),
		)
	}
}
