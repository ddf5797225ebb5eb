package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	kratos "github.com/ory/kratos-client-go"

	"github.com/hitoshi/gdmcare/internal/model"
)

// Kratosがメール未確認のアカウントに返すメッセージID。
const kratosAddressNotVerified = "4000010"

// KratosConfig はOry Kratos公開APIの接続設定。
type KratosConfig struct {
	PublicURL  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// KratosProvider はOry Kratosのネイティブフロー（API向けフロー）を使うProvider実装。
// セッショントークンをアクセストークンとして扱う。
type KratosProvider struct {
	client *kratos.APIClient
}

// NewKratosProvider はKratosProviderを生成する。
func NewKratosProvider(cfg KratosConfig) *KratosProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	conf := kratos.NewConfiguration()
	conf.Servers = kratos.ServerConfigurations{{URL: strings.TrimRight(cfg.PublicURL, "/")}}
	conf.HTTPClient = httpClient

	return &KratosProvider{client: kratos.NewAPIClient(conf)}
}

// SignIn はネイティブログインフローを作成し、パスワードメソッドで送信する。
func (p *KratosProvider) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	flow, httpResp, err := p.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, classifyKratosError(err, httpResp, ErrProviderUnavailable)
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   password,
		Method:     "password",
	}
	resp, httpResp, err := p.client.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, classifyKratosError(err, httpResp, ErrInvalidCredentials)
	}

	token := resp.GetSessionToken()
	session := resp.GetSession()
	if token == "" || session.Identity == nil {
		return nil, &ProviderError{Kind: ErrInvalidCredentials}
	}

	return &SignInResult{
		Account:     identityToAccount(session.Identity),
		AccessToken: token,
	}, nil
}

// SignUp はネイティブ登録フローでアカウントを登録する。
// full_name と role はトレイトとして保存する。
func (p *KratosProvider) SignUp(ctx context.Context, req SignUpRequest) (*model.Account, error) {
	flowReq := p.client.FrontendAPI.CreateNativeRegistrationFlow(ctx)
	if req.RedirectURL != "" {
		flowReq = flowReq.ReturnTo(req.RedirectURL)
	}
	flow, httpResp, err := flowReq.Execute()
	if err != nil {
		return nil, classifyKratosError(err, httpResp, ErrProviderUnavailable)
	}

	body := kratos.UpdateRegistrationFlowWithPasswordMethod{
		Method:   "password",
		Password: req.Password,
		Traits: map[string]interface{}{
			"email":     req.Email,
			"full_name": req.FullName,
			"role":      string(req.Role),
		},
	}
	resp, httpResp, err := p.client.FrontendAPI.
		UpdateRegistrationFlow(ctx).
		Flow(flow.Id).
		UpdateRegistrationFlowBody(kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, classifyKratosError(err, httpResp, ErrSignUpRejected)
	}

	ident := resp.GetIdentity()
	if ident.Id == "" {
		return nil, &ProviderError{Kind: ErrSignUpRejected}
	}
	return identityToAccount(&ident), nil
}

// VerifyToken はセッショントークンでセッションを取得し、有効性を確認する。
func (p *KratosProvider) VerifyToken(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	session, httpResp, err := p.client.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		return nil, classifyKratosError(err, httpResp, ErrInvalidToken)
	}
	if !session.GetActive() || session.Identity == nil {
		return nil, &ProviderError{Kind: ErrInvalidToken}
	}

	return identityToAccount(session.Identity), nil
}

// classifyKratosError はKratosクライアントのエラーをセンチネルエラーに分類する。
// 4xxは fallback、5xxと通信エラーは ErrProviderUnavailable になる。
func classifyKratosError(err error, resp *http.Response, fallback error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if status == 0 || status >= http.StatusInternalServerError {
		return &ProviderError{Kind: ErrProviderUnavailable, Status: status, Message: err.Error()}
	}

	var apiErr *kratos.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		body := apiErr.Body()
		if bytes.Contains(body, []byte(kratosAddressNotVerified)) {
			return &ProviderError{Kind: ErrEmailNotConfirmed, Status: status}
		}
		if msg := kratosUIMessage(apiErr.Model()); msg != "" {
			return &ProviderError{Kind: fallback, Status: status, Message: msg}
		}
	}

	return &ProviderError{Kind: fallback, Status: status, Message: fmt.Sprintf("kratos responded with status %d", status)}
}

// kratosUIMessage はフロー応答からユーザー向けメッセージを1件取り出す。
func kratosUIMessage(m interface{}) string {
	var ui *kratos.UiContainer
	switch v := m.(type) {
	case kratos.LoginFlow:
		ui = &v.Ui
	case kratos.RegistrationFlow:
		ui = &v.Ui
	default:
		return ""
	}

	for _, msg := range ui.Messages {
		if msg.Text != "" {
			return msg.Text
		}
	}
	for _, node := range ui.Nodes {
		for _, msg := range node.Messages {
			if msg.Text != "" {
				return msg.Text
			}
		}
	}
	return ""
}

// identityToAccount はKratosのIdentityをAccountに変換する。
// ロールはトレイト、次に公開メタデータの順で探す。
func identityToAccount(ident *kratos.Identity) *model.Account {
	traits, _ := ident.GetTraits().(map[string]interface{})
	meta, _ := ident.GetMetadataPublic().(map[string]interface{})

	role := metadataRole(traits)
	if role == "" {
		role = metadataRole(meta)
	}

	return &model.Account{
		ID:       ident.Id,
		Email:    metadataString(traits, "email"),
		Role:     role,
		FullName: metadataString(traits, "full_name"),
	}
}

// compile-time interface check
var _ Provider = (*KratosProvider)(nil)
