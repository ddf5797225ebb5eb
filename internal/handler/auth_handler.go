package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/auth"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

// 認証APIのユーザー向けメッセージ。
const (
	msgLoginSuccessful    = "Login successful"
	msgAccountCreated     = "Account created successfully. You can now log in."
	msgLoggedOut          = "Logged out"
	msgLoginMissing       = "Email and password are required"
	msgSignUpMissing      = "Email, password, and full name are required"
	msgWeakPassword       = "Password must be at least 6 characters"
	msgEmailNotConfirmed  = "Please check your email to confirm your account, or contact support."
	msgInvalidCredentials = "Invalid email or password"
	msgSignUpFailed       = "Signup failed"
	msgProviderDown       = "Authentication service is temporarily unavailable. Please try again later."
	msgInvalidBody        = "Invalid request body"
	msgInternalError      = "Internal server error"
	msgNotAuthenticated   = "Not authenticated"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, in auth.LoginInput, meta auth.RequestMeta) (*auth.LoginResult, error)
	SignUp(ctx context.Context, in auth.SignUpInput, meta auth.RequestMeta) (*model.Account, error)
	Logout(ctx context.Context, account *model.Account, meta auth.RequestMeta)
}

// AuthHandler はログイン、サインアップ、セッション確認、ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	issuer   *session.Issuer
	resolver *middleware.SessionResolver
	metrics  metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, issuer *session.Issuer, resolver *middleware.SessionResolver, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service:  service,
		issuer:   issuer,
		resolver: resolver,
		metrics:  collector,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type authResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

type verifyResponse struct {
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role"`
	Token         string `json:"token"`
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.RecordAuthAttempt(audit.ActionLogin, audit.OutcomeInvalid)
		middleware.WriteJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(r))
	h.metrics.RecordAuthAttempt(audit.ActionLogin, auth.Outcome(err))
	if err != nil {
		status, msg := loginErrorResponse(err)
		logAuthFailure(r, audit.ActionLogin, status, err)
		middleware.WriteJSONError(w, status, msg)
		return
	}

	h.issuer.Issue(w, result.AccessToken, result.Account.Role)

	writeJSON(w, http.StatusOK, authResponse{
		Message: msgLoginSuccessful,
		User:    toUserResponse(result.Account),
	})
}

// SignUp はアカウントを登録する。セッションCookieは発行しない。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.RecordAuthAttempt(audit.ActionSignUp, audit.OutcomeInvalid)
		middleware.WriteJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	account, err := h.service.SignUp(r.Context(), auth.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	}, requestMeta(r))
	h.metrics.RecordAuthAttempt(audit.ActionSignUp, auth.Outcome(err))
	if err != nil {
		status, msg := signUpErrorResponse(err)
		logAuthFailure(r, audit.ActionSignUp, status, err)
		middleware.WriteJSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Message: msgAccountCreated,
		User:    toUserResponse(account),
	})
}

// Verify はセッションCookieの有無（verifyモードでは有効性も）を確認する。
// GET /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.ResolveErr(r)
	if middleware.IsUnavailable(err) {
		middleware.WriteJSONError(w, http.StatusServiceUnavailable, msgProviderDown)
		return
	}
	if err != nil {
		middleware.WriteJSONError(w, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Authenticated: true,
		Role:          string(principal.Role),
		Token:         principal.Token,
	})
}

// Logout はセッションCookieを削除する。サーバー側で無効化するセッションは無い。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var account *model.Account
	if principal, ok := h.resolver.Resolve(r); ok {
		account = principal.Account
	}
	h.service.Logout(r.Context(), account, requestMeta(r))
	h.metrics.RecordAuthAttempt(audit.ActionLogout, audit.OutcomeSuccess)

	h.issuer.Clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

// loginErrorResponse はログインのエラーをHTTPステータスとユーザー向けメッセージに変換する。
func loginErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrMissingFields), errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, msgLoginMissing
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		return http.StatusForbidden, msgEmailNotConfirmed
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, providerMessageOr(err, msgInvalidCredentials)
	case errors.Is(err, identity.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, msgProviderDown
	default:
		return http.StatusInternalServerError, msgInternalError
	}
}

// signUpErrorResponse はサインアップのエラーをHTTPステータスとユーザー向けメッセージに変換する。
func signUpErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrMissingFields):
		return http.StatusBadRequest, msgSignUpMissing
	case errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, msgWeakPassword
	case errors.Is(err, identity.ErrSignUpRejected), errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusBadRequest, providerMessageOr(err, msgSignUpFailed)
	case errors.Is(err, identity.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, msgProviderDown
	default:
		return http.StatusInternalServerError, msgInternalError
	}
}

func providerMessageOr(err error, fallback string) string {
	if msg := identity.ProviderMessage(err); msg != "" {
		return msg
	}
	return fallback
}

// logAuthFailure は認証失敗をログに残す。入力値は記録しない。
func logAuthFailure(r *http.Request, action string, status int, err error) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "auth request failed",
		slog.String("action", action),
		slog.Int("status", status),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func toUserResponse(a *model.Account) userResponse {
	return userResponse{ID: a.ID, Email: a.Email, Role: string(a.Role)}
}
