package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*model.Account, error)
	calls    int
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*model.Account, error) {
	m.calls++
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return nil, identity.ErrInvalidToken
}

// acceptToken は指定トークンのみを有効とするモックを返す。
func acceptToken(valid string, account *model.Account) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(_ context.Context, token string) (*model.Account, error) {
			if token == valid {
				a := *account
				return &a, nil
			}
			return nil, identity.ErrInvalidToken
		},
	}
}

func withSessionCookies(req *http.Request, token, role string) *http.Request {
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.TokenCookieName, Value: token})
	}
	if role != "" {
		req.AddCookie(&http.Cookie{Name: session.RoleCookieName, Value: role})
	}
	return req
}

// --- SessionResolver ---

// TestSessionResolver_PresenceMode はpresenceモードでCookieの存在のみで判定することを検証する。
func TestSessionResolver_PresenceMode(t *testing.T) {
	resolver := NewSessionResolver(nil)

	req := withSessionCookies(httptest.NewRequest(http.MethodGet, "/dashboard", nil), "forged", "nurse")
	p, ok := resolver.Resolve(req)
	if !ok {
		t.Fatal("expected session in presence mode")
	}
	if p.Role != model.RoleNurse {
		t.Errorf("Role = %q, want nurse", p.Role)
	}
	if p.Verified {
		t.Error("presence mode should not mark principal as verified")
	}

	if _, ok := resolver.Resolve(httptest.NewRequest(http.MethodGet, "/dashboard", nil)); ok {
		t.Error("expected no session without cookie")
	}
}

// TestSessionResolver_VerifyMode_UsesAccountRole はverifyモードでロールCookieではなく検証済みアカウントのロールを使うことを検証する。
func TestSessionResolver_VerifyMode_UsesAccountRole(t *testing.T) {
	v := acceptToken("good", &model.Account{ID: "u-1", Email: "a@b.com", Role: model.RolePatient})
	resolver := NewSessionResolver(v)

	req := withSessionCookies(httptest.NewRequest(http.MethodGet, "/dashboard", nil), "good", "doctor")
	p, ok := resolver.Resolve(req)
	if !ok {
		t.Fatal("expected session")
	}
	if p.Role != model.RolePatient {
		t.Errorf("Role = %q, want patient (role cookie must not elevate)", p.Role)
	}
	if p.AccountID() != "u-1" || !p.Verified {
		t.Errorf("unexpected principal: %+v", p)
	}
}

// TestSessionResolver_VerifyMode_InvalidToken は無効なトークンを未認証として扱うことを検証する。
func TestSessionResolver_VerifyMode_InvalidToken(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"無効なトークン", identity.ErrInvalidToken},
		{"プロバイダー障害", identity.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &mockVerifier{verifyFn: func(context.Context, string) (*model.Account, error) { return nil, tt.err }}
			resolver := NewSessionResolver(v)

			req := withSessionCookies(httptest.NewRequest(http.MethodGet, "/dashboard", nil), "bad", "")
			if _, ok := resolver.Resolve(req); ok {
				t.Error("expected no session")
			}
		})
	}
}

// TestSessionResolver_BearerFallback はCookieが無い場合にAuthorizationヘッダーを受け付けることを検証する。
func TestSessionResolver_BearerFallback(t *testing.T) {
	v := acceptToken("api-token", &model.Account{ID: "u-2", Role: model.RoleDoctor})
	resolver := NewSessionResolver(v)

	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer api-token")

	p, ok := resolver.Resolve(req)
	if !ok {
		t.Fatal("expected session from bearer token")
	}
	if p.Role != model.RoleDoctor {
		t.Errorf("Role = %q, want doctor", p.Role)
	}
}

// TestSessionResolver_ResolveErr は不在と検証不能を区別することを検証する。
func TestSessionResolver_ResolveErr(t *testing.T) {
	down := &mockVerifier{verifyFn: func(context.Context, string) (*model.Account, error) {
		return nil, &identity.ProviderError{Kind: identity.ErrProviderUnavailable}
	}}

	tests := []struct {
		name            string
		verifier        *mockVerifier
		token           string
		wantErr         bool
		wantUnavailable bool
	}{
		{"Cookieなし", down, "", true, false},
		{"無効なトークン", &mockVerifier{}, "bad", true, false},
		{"プロバイダー障害", down, "tok", true, true},
		{"有効なトークン", acceptToken("tok", &model.Account{ID: "u-1"}), "tok", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewSessionResolver(tt.verifier)
			req := withSessionCookies(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), tt.token, "")

			_, err := resolver.ResolveErr(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := IsUnavailable(err); got != tt.wantUnavailable {
				t.Errorf("IsUnavailable = %v, want %v", got, tt.wantUnavailable)
			}
			if tt.wantErr && !tt.wantUnavailable && !errors.Is(err, ErrNoSession) {
				t.Errorf("err = %v, want ErrNoSession", err)
			}
		})
	}
}

// --- RequireSession ---

// TestRequireSession_InjectsPrincipal は認証済みの主体がコンテキストに注入されることを検証する。
func TestRequireSession_InjectsPrincipal(t *testing.T) {
	v := acceptToken("good", &model.Account{ID: "u-123", Role: model.RoleNurse})
	mw := NewRequireSession(NewSessionResolver(v))

	var captured *Principal
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Error("expected principal in context")
		}
		captured = p
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookies(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "good", ""))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.AccountID() != "u-123" {
		t.Errorf("captured principal = %+v", captured)
	}
}

// TestRequireSession_Unauthenticated_Returns401 は未認証時に401と所定のボディを返すことを検証する。
func TestRequireSession_Unauthenticated_Returns401(t *testing.T) {
	mw := NewRequireSession(NewSessionResolver(&mockVerifier{}))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/chat", nil),
		withSessionCookies(httptest.NewRequest(http.MethodPost, "/api/chat", nil), "expired", "patient"),
	} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body["error"] != "Not authenticated" {
			t.Errorf("error = %q, want %q", body["error"], "Not authenticated")
		}
	}
}

// TestRequireSession_ProviderDown_Returns503 はプロバイダー障害時に503を返すことを検証する。
func TestRequireSession_ProviderDown_Returns503(t *testing.T) {
	v := &mockVerifier{verifyFn: func(context.Context, string) (*model.Account, error) {
		return nil, identity.ErrProviderUnavailable
	}}
	handler := NewRequireSession(NewSessionResolver(v))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookies(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "tok", ""))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["error"] != MsgAuthUnavailable {
		t.Errorf("error = %q", body["error"])
	}
}

// TestRequireRole は臨床ロール限定のルートで患者ロールを403にすることを検証する。
func TestRequireRole(t *testing.T) {
	tests := []struct {
		role       model.Role
		wantStatus int
	}{
		{model.RoleDoctor, http.StatusOK},
		{model.RoleNurse, http.StatusOK},
		{model.RolePatient, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			handler := NewRequireRole(model.RoleDoctor, model.RoleNurse)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
			req = req.WithContext(ContextWithPrincipal(req.Context(), &Principal{Role: tt.role}))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	t.Run("主体なし", func(t *testing.T) {
		handler := NewRequireRole(model.RoleDoctor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestPrincipalFromContext_Missing はコンテキストに主体が無い場合の挙動を検証する。
func TestPrincipalFromContext_Missing(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("expected ok=false for empty context")
	}
	var nilPrincipal *Principal
	if id := nilPrincipal.AccountID(); id != "" {
		t.Errorf("AccountID of nil = %q", id)
	}
}
