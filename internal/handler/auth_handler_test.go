package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/gdmcare/internal/auth"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

func newTestAuthHandler(svc AuthServiceInterface, verifier session.TokenVerifier, collector *mockCollector) *AuthHandler {
	return NewAuthHandler(svc, session.NewIssuer(session.IssuerConfig{}), middleware.NewSessionResolver(verifier), collector)
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// --- Login ---

// TestAuthHandler_Login_Success はログイン成功時に2つのCookieとユーザー情報を返すことを検証する。
func TestAuthHandler_Login_Success(t *testing.T) {
	var gotMeta auth.RequestMeta
	svc := &mockAuthService{
		loginFn: func(_ context.Context, in auth.LoginInput, meta auth.RequestMeta) (*auth.LoginResult, error) {
			gotMeta = meta
			if in.Email != "sarah@example.com" || in.Password != "secret1" {
				t.Errorf("unexpected input: %+v", in)
			}
			return &auth.LoginResult{
				Account:     &model.Account{ID: "u-1", Email: "sarah@example.com", Role: model.RoleDoctor},
				AccessToken: "access-123",
			}, nil
		},
	}
	collector := newMockCollector()
	h := newTestAuthHandler(svc, nil, collector)

	req := jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"sarah@example.com","password":"secret1"}`)
	req.RemoteAddr = "203.0.113.9:4321"
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := w.Result()
	token := findCookie(resp, session.TokenCookieName)
	role := findCookie(resp, session.RoleCookieName)
	if token == nil || token.Value != "access-123" || !token.HttpOnly {
		t.Errorf("auth_token cookie = %+v", token)
	}
	if role == nil || role.Value != "doctor" || role.HttpOnly {
		t.Errorf("user_role cookie = %+v", role)
	}
	if token != nil && token.MaxAge != session.DefaultMaxAge {
		t.Errorf("MaxAge = %d, want %d", token.MaxAge, session.DefaultMaxAge)
	}

	body := decodeBody(t, w)
	if body["message"] != "Login successful" {
		t.Errorf("message = %v", body["message"])
	}
	user, _ := body["user"].(map[string]interface{})
	if user["id"] != "u-1" || user["email"] != "sarah@example.com" || user["role"] != "doctor" {
		t.Errorf("user = %v", user)
	}

	if gotMeta.ClientIP != "203.0.113.9" || gotMeta.UserAgent != "test-agent" {
		t.Errorf("meta = %+v", gotMeta)
	}
	if collector.authOutcome["login/success"] != 1 {
		t.Errorf("auth metrics = %v", collector.authOutcome)
	}
}

// TestAuthHandler_Login_Errors はエラー種別ごとのステータスとメッセージを検証する。
// 失敗時はCookieを発行しない。
func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"必須項目なし", identity.ErrMissingFields, http.StatusBadRequest, "Email and password are required"},
		{"メール未確認", &identity.ProviderError{Kind: identity.ErrEmailNotConfirmed, Message: "Email not confirmed"}, http.StatusForbidden,
			"Please check your email to confirm your account, or contact support."},
		{"資格情報の誤り", &identity.ProviderError{Kind: identity.ErrInvalidCredentials, Message: "Invalid login credentials"}, http.StatusUnauthorized,
			"Invalid login credentials"},
		{"メッセージなしの資格情報誤り", identity.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
		{"プロバイダー停止", fmt.Errorf("sign in failed: %w", identity.ErrProviderUnavailable), http.StatusServiceUnavailable,
			"Authentication service is temporarily unavailable. Please try again later."},
		{"想定外", fmt.Errorf("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFn: func(context.Context, auth.LoginInput, auth.RequestMeta) (*auth.LoginResult, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc, nil, newMockCollector())

			w := httptest.NewRecorder()
			h.Login(w, jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"x"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeBody(t, w); body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
			if c := findCookie(w.Result(), session.TokenCookieName); c != nil {
				t.Error("no cookie should be issued on failure")
			}
		})
	}
}

// TestAuthHandler_Login_InvalidJSON は不正なボディを400で拒否することを検証する。
func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(context.Context, auth.LoginInput, auth.RequestMeta) (*auth.LoginResult, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	h := newTestAuthHandler(svc, nil, newMockCollector())

	for _, body := range []string{"", "{not json"} {
		w := httptest.NewRecorder()
		h.Login(w, jsonRequest(http.MethodPost, "/api/auth/login", body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

// --- SignUp ---

// TestAuthHandler_SignUp_Success はサインアップ成功時に201を返し、Cookieを発行しないことを検証する。
func TestAuthHandler_SignUp_Success(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(_ context.Context, in auth.SignUpInput, _ auth.RequestMeta) (*model.Account, error) {
			if in.FullName != "Lisa Nurse" || in.Role != "nurse" {
				t.Errorf("unexpected input: %+v", in)
			}
			return &model.Account{ID: "u-9", Email: in.Email, Role: model.RoleNurse}, nil
		},
	}
	h := newTestAuthHandler(svc, nil, newMockCollector())

	w := httptest.NewRecorder()
	h.SignUp(w, jsonRequest(http.MethodPost, "/api/auth/signup",
		`{"email":"lisa@example.com","password":"secret1","fullName":"Lisa Nurse","role":"nurse"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	body := decodeBody(t, w)
	if body["message"] != "Account created successfully. You can now log in." {
		t.Errorf("message = %v", body["message"])
	}
	if user, _ := body["user"].(map[string]interface{}); user["role"] != "nurse" {
		t.Errorf("user = %v", user)
	}
	if c := findCookie(w.Result(), session.TokenCookieName); c != nil {
		t.Error("signup should not issue a session cookie")
	}
}

// TestAuthHandler_SignUp_Errors はサインアップのエラー種別ごとのステータスとメッセージを検証する。
func TestAuthHandler_SignUp_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"必須項目なし", identity.ErrMissingFields, http.StatusBadRequest, "Email, password, and full name are required"},
		{"短いパスワード", identity.ErrWeakPassword, http.StatusBadRequest, "Password must be at least 6 characters"},
		{"登録済み", &identity.ProviderError{Kind: identity.ErrSignUpRejected, Message: "User already registered"}, http.StatusBadRequest,
			"User already registered"},
		{"メッセージなしの拒否", identity.ErrSignUpRejected, http.StatusBadRequest, "Signup failed"},
		{"プロバイダー停止", identity.ErrProviderUnavailable, http.StatusServiceUnavailable,
			"Authentication service is temporarily unavailable. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signUpFn: func(context.Context, auth.SignUpInput, auth.RequestMeta) (*model.Account, error) {
					return nil, tt.err
				},
			}
			collector := newMockCollector()
			h := newTestAuthHandler(svc, nil, collector)

			w := httptest.NewRecorder()
			h.SignUp(w, jsonRequest(http.MethodPost, "/api/auth/signup", `{"email":"a@b.com"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeBody(t, w); body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
			if collector.authOutcome["signup/"+auth.Outcome(tt.err)] != 1 {
				t.Errorf("auth metrics = %v", collector.authOutcome)
			}
		})
	}
}

// --- Verify ---

// TestAuthHandler_Verify_PresenceMode はCookieの値をそのまま返すことを検証する。
func TestAuthHandler_Verify_PresenceMode(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, nil, newMockCollector())

	tests := []struct {
		name       string
		token      string
		role       string
		wantStatus int
		wantRole   string
	}{
		{"Cookieなし", "", "", http.StatusUnauthorized, ""},
		{"ロールあり", "tok", "nurse", http.StatusOK, "nurse"},
		{"ロールなしはpatient", "tok", "", http.StatusOK, "patient"},
		{"不明なロールはpatient", "tok", "admin", http.StatusOK, "patient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Verify(w, sessionRequest(http.MethodGet, "/api/auth/verify", tt.token, tt.role))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeBody(t, w)
			if tt.wantStatus == http.StatusUnauthorized {
				if body["error"] != "Not authenticated" {
					t.Errorf("error = %v", body["error"])
				}
				return
			}
			if body["authenticated"] != true || body["role"] != tt.wantRole || body["token"] != tt.token {
				t.Errorf("body = %v", body)
			}
		})
	}
}

// TestAuthHandler_Verify_VerifyMode は無効なトークンを401にし、ロールを検証済みアカウントから返すことを検証する。
func TestAuthHandler_Verify_VerifyMode(t *testing.T) {
	v := acceptTokens(map[string]*model.Account{"good": {ID: "u-1", Role: model.RolePatient}})
	h := newTestAuthHandler(&mockAuthService{}, v, newMockCollector())

	w := httptest.NewRecorder()
	h.Verify(w, sessionRequest(http.MethodGet, "/api/auth/verify", "forged", "doctor"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged token: status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	h.Verify(w, sessionRequest(http.MethodGet, "/api/auth/verify", "good", "doctor"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["role"] != "patient" {
		t.Errorf("role = %v, want patient", body["role"])
	}
}

// TestAuthHandler_Verify_ProviderDown はプロバイダー障害時に401ではなく503を返すことを検証する。
func TestAuthHandler_Verify_ProviderDown(t *testing.T) {
	v := &mockVerifier{verifyFn: func(context.Context, string) (*model.Account, error) {
		return nil, &identity.ProviderError{Kind: identity.ErrProviderUnavailable, Status: http.StatusBadGateway}
	}}
	h := newTestAuthHandler(&mockAuthService{}, v, newMockCollector())

	w := httptest.NewRecorder()
	h.Verify(w, sessionRequest(http.MethodGet, "/api/auth/verify", "good", ""))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != msgProviderDown {
		t.Errorf("error = %v, want %q", body["error"], msgProviderDown)
	}

	// Cookieが無ければプロバイダーに問い合わせず401
	w = httptest.NewRecorder()
	h.Verify(w, sessionRequest(http.MethodGet, "/api/auth/verify", "", ""))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no cookie: status = %d, want 401", w.Code)
	}
}

// --- Logout ---

// TestAuthHandler_Logout はCookieを失効させ、セッションの有無に関わらず200を返すことを検証する。
func TestAuthHandler_Logout(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		wantAccount string
	}{
		{"セッションあり", "good", "u-1"},
		{"セッションなし", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{}
			v := acceptTokens(map[string]*model.Account{"good": {ID: "u-1", Role: model.RoleNurse}})
			collector := newMockCollector()
			h := newTestAuthHandler(svc, v, collector)

			w := httptest.NewRecorder()
			h.Logout(w, sessionRequest(http.MethodPost, "/api/auth/logout", tt.token, "nurse"))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if body := decodeBody(t, w); body["message"] != "Logged out" {
				t.Errorf("message = %v", body["message"])
			}

			resp := w.Result()
			for _, name := range []string{session.TokenCookieName, session.RoleCookieName} {
				c := findCookie(resp, name)
				if c == nil || c.MaxAge >= 0 {
					t.Errorf("cookie %s should be expired: %+v", name, c)
				}
			}

			if svc.logoutCalls != 1 {
				t.Errorf("Logout calls = %d, want 1", svc.logoutCalls)
			}
			var gotAccount string
			if svc.logoutAccount != nil {
				gotAccount = svc.logoutAccount.ID
			}
			if gotAccount != tt.wantAccount {
				t.Errorf("logout account = %q, want %q", gotAccount, tt.wantAccount)
			}
			if collector.authOutcome["logout/success"] != 1 {
				t.Errorf("auth metrics = %v", collector.authOutcome)
			}
		})
	}
}
