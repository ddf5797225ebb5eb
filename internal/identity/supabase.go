package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	supabase "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"

	"github.com/hitoshi/gdmcare/internal/model"
)

const (
	supabaseEmailNotConfirmed = "email_not_confirmed"
	supabaseMaxBodySize       = 1 << 20
)

// SupabaseConfig はSupabase Auth（GoTrue）の接続設定。
type SupabaseConfig struct {
	// URL はプロジェクトURL（例: https://xyz.supabase.co）。
	URL string
	// AnonKey は公開anonキー。apikeyヘッダーとして送信する。
	AnonKey string
	// HTTPClient が nil の場合は Timeout 付きのクライアントを生成する。
	HTTPClient *http.Client
	Timeout    time.Duration
}

// SupabaseProvider はSupabase AuthクライアントをラップするProvider実装。
type SupabaseProvider struct {
	client    supabase.Client
	transport http.RoundTripper
	timeout   time.Duration
}

// NewSupabaseProvider はSupabaseProviderを生成する。
func NewSupabaseProvider(cfg SupabaseConfig) *SupabaseProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			transport = cfg.HTTPClient.Transport
		}
		if cfg.HTTPClient.Timeout > 0 {
			timeout = cfg.HTTPClient.Timeout
		}
	}

	authURL := strings.TrimRight(cfg.URL, "/") + "/auth/v1"
	return &SupabaseProvider{
		client:    supabase.New("", cfg.AnonKey).WithCustomAuthURL(authURL),
		transport: transport,
		timeout:   timeout,
	}
}

// supabaseErrorResponse はGoTrueのエラーレスポンス。
// バージョンによりフィールド名が異なるため両方を受ける。
type supabaseErrorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e supabaseErrorResponse) message() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (e supabaseErrorResponse) emailNotConfirmed() bool {
	if e.ErrorCode == supabaseEmailNotConfirmed {
		return true
	}
	return strings.EqualFold(e.message(), "Email not confirmed")
}

// SignIn はパスワードグラントでサインインする。
func (p *SupabaseProvider) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	client, rec := p.withContext(ctx, nil)

	resp, err := client.Token(types.TokenRequest{
		GrantType: "password",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		return nil, rec.classify(err, ErrInvalidCredentials)
	}

	// ユーザーまたはトークンが欠けている場合はログイン失敗として扱う
	if resp.User.ID == uuid.Nil || resp.AccessToken == "" {
		return nil, &ProviderError{Kind: ErrInvalidCredentials, Status: rec.status()}
	}

	return &SignInResult{
		Account:     supabaseAccount(resp.User),
		AccessToken: resp.AccessToken,
	}, nil
}

// SignUp はメールアドレスとパスワードでアカウントを登録する。
// 確認メールのリダイレクト先は redirect_to クエリで渡す。
func (p *SupabaseProvider) SignUp(ctx context.Context, req SignUpRequest) (*model.Account, error) {
	var query url.Values
	if req.RedirectURL != "" {
		query = url.Values{"redirect_to": {req.RedirectURL}}
	}
	client, rec := p.withContext(ctx, query)

	resp, err := client.Signup(types.SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Data: map[string]interface{}{
			"full_name": req.FullName,
			"role":      string(req.Role),
		},
	})
	if err != nil {
		return nil, rec.classify(err, ErrSignUpRejected)
	}

	// 自動確認が無効な場合はユーザー形式、有効な場合はセッション形式で返る
	user := resp.User
	if user.ID == uuid.Nil {
		user = resp.Session.User
	}
	if user.ID == uuid.Nil {
		return nil, &ProviderError{Kind: ErrSignUpRejected, Status: rec.status()}
	}

	return supabaseAccount(user), nil
}

// VerifyToken はアクセストークンでユーザー情報を取得し、トークンを検証する。
func (p *SupabaseProvider) VerifyToken(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	client, rec := p.withContext(ctx, nil)
	resp, err := client.WithToken(token).GetUser()
	if err != nil {
		status := rec.status()
		switch {
		case status == 0, status >= http.StatusInternalServerError:
			return nil, &ProviderError{Kind: ErrProviderUnavailable, Status: status, Message: err.Error()}
		case status == http.StatusOK:
			return nil, &ProviderError{Kind: ErrProviderUnavailable, Status: status, Message: fmt.Sprintf("failed to parse user response: %v", err)}
		default:
			return nil, &ProviderError{Kind: ErrInvalidToken, Status: status}
		}
	}
	if resp.ID == uuid.Nil {
		return nil, &ProviderError{Kind: ErrInvalidToken, Status: rec.status()}
	}

	return supabaseAccount(resp.User), nil
}

// withContext は呼び出し単位のHTTPクライアントを設定したSupabaseクライアントを返す。
// ctxのキャンセルと追加クエリはトランスポートで付与し、応答はrecorderに記録する。
func (p *SupabaseProvider) withContext(ctx context.Context, query url.Values) (supabase.Client, *responseRecorder) {
	rec := &responseRecorder{base: p.transport, ctx: ctx, query: query}
	return p.client.WithClient(http.Client{Transport: rec, Timeout: p.timeout}), rec
}

// responseRecorder はリクエストにコンテキストを付与し、最後の応答のステータスとボディを保持する。
type responseRecorder struct {
	base  http.RoundTripper
	ctx   context.Context
	query url.Values

	mu         sync.Mutex
	statusCode int
	body       []byte
}

// RoundTrip はhttp.RoundTripperを実装する。
func (r *responseRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(r.ctx)
	if len(r.query) > 0 {
		q := out.URL.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		out.URL.RawQuery = q.Encode()
	}

	resp, err := r.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, supabaseMaxBodySize))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.statusCode = resp.StatusCode
	r.body = body
	r.mu.Unlock()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (r *responseRecorder) status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusCode
}

// classify はクライアントのエラーを記録済みの応答からセンチネルエラーに分類する。
// 応答が無い場合は通信エラーとして ErrProviderUnavailable を返す。
func (r *responseRecorder) classify(err error, fallback error) error {
	r.mu.Lock()
	status, body := r.statusCode, r.body
	r.mu.Unlock()

	switch {
	case status == 0:
		return &ProviderError{Kind: ErrProviderUnavailable, Message: err.Error()}
	case status >= http.StatusInternalServerError:
		return &ProviderError{Kind: ErrProviderUnavailable, Status: status}
	case status < http.StatusBadRequest:
		return &ProviderError{Kind: ErrProviderUnavailable, Status: status, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	var errResp supabaseErrorResponse
	_ = json.Unmarshal(body, &errResp)

	if errResp.emailNotConfirmed() {
		return &ProviderError{Kind: ErrEmailNotConfirmed, Status: status, Message: errResp.message()}
	}
	return &ProviderError{Kind: fallback, Status: status, Message: errResp.message()}
}

func supabaseAccount(u types.User) *model.Account {
	return &model.Account{
		ID:       u.ID.String(),
		Email:    u.Email,
		Role:     metadataRole(u.UserMetadata),
		FullName: metadataString(u.UserMetadata, "full_name"),
	}
}

// compile-time interface check
var _ Provider = (*SupabaseProvider)(nil)
