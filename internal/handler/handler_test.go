package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/auth"
	"github.com/hitoshi/gdmcare/internal/identity"
	"github.com/hitoshi/gdmcare/internal/model"
	"github.com/hitoshi/gdmcare/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn  func(ctx context.Context, in auth.LoginInput, meta auth.RequestMeta) (*auth.LoginResult, error)
	signUpFn func(ctx context.Context, in auth.SignUpInput, meta auth.RequestMeta) (*model.Account, error)

	mu            sync.Mutex
	logoutCalls   int
	logoutAccount *model.Account
}

func (m *mockAuthService) Login(ctx context.Context, in auth.LoginInput, meta auth.RequestMeta) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in, meta)
	}
	return nil, identity.ErrInvalidCredentials
}

func (m *mockAuthService) SignUp(ctx context.Context, in auth.SignUpInput, meta auth.RequestMeta) (*model.Account, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in, meta)
	}
	return nil, identity.ErrSignUpRejected
}

func (m *mockAuthService) Logout(_ context.Context, account *model.Account, _ auth.RequestMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutCalls++
	m.logoutAccount = account
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*model.Account, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*model.Account, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return nil, identity.ErrInvalidToken
}

// acceptTokens は指定トークンとアカウントの対応のみを有効とするモックを返す。
func acceptTokens(accounts map[string]*model.Account) *mockVerifier {
	return &mockVerifier{verifyFn: func(_ context.Context, token string) (*model.Account, error) {
		if a, ok := accounts[token]; ok {
			copied := *a
			return &copied, nil
		}
		return nil, identity.ErrInvalidToken
	}}
}

type mockRecorder struct {
	mu      sync.Mutex
	auth    []audit.AuthEvent
	streams []audit.ChatStream
}

func (m *mockRecorder) RecordAuth(_ context.Context, e audit.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = append(m.auth, e)
	return nil
}

func (m *mockRecorder) RecordChat(_ context.Context, s audit.ChatStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, s)
	return nil
}

type mockCollector struct {
	mu          sync.Mutex
	authOutcome map[string]int
	chatOutcome map[string]int
	firstTokens int
	decisions   map[string]int
}

func newMockCollector() *mockCollector {
	return &mockCollector{
		authOutcome: map[string]int{},
		chatOutcome: map[string]int{},
		decisions:   map[string]int{},
	}
}

func (m *mockCollector) RecordAuthAttempt(action, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authOutcome[action+"/"+outcome]++
}

func (m *mockCollector) RecordGuardDecision(decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[decision]++
}

func (m *mockCollector) RecordChatStream(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatOutcome[outcome]++
}

func (m *mockCollector) RecordChatFirstToken(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firstTokens++
}

func (m *mockCollector) RecordTokenVerification(string) {}
func (m *mockCollector) RecordReadingFetch(string) {}
func (m *mockCollector) RecordHTTPStatus(int) {}

// --- ヘルパー ---

func sessionRequest(method, path, token, role string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.TokenCookieName, Value: token})
	}
	if role != "" {
		req.AddCookie(&http.Cookie{Name: session.RoleCookieName, Value: role})
	}
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}
