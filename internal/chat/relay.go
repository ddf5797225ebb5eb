// Package chat はGDMアシスタントとの会話をチャット補完APIへ中継し、応答をストリーミングする。
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hitoshi/gdmcare/internal/security"
)

// DefaultModel はCHAT_MODEL未設定時のモデル。
const DefaultModel = "gpt-4o-mini"

// 会話の制限。
const (
	MaxMessages      = 50
	MaxContentLength = 4000
)

// 中継のエラー。
var (
	// ErrNoMessages は有効な発話が1つもない場合のエラー。
	ErrNoMessages = errors.New("chat: at least one user or assistant message is required")
	// ErrTooManyMessages は発話数が上限を超えた場合のエラー。
	ErrTooManyMessages = errors.New("chat: too many messages")
	// ErrUpstream は最初のトークンを受け取る前に補完APIが失敗した場合のエラー。
	ErrUpstream = errors.New("chat: upstream generation failed")
	// ErrInterrupted はストリームの途中で補完APIが失敗した場合のエラー。
	ErrInterrupted = errors.New("chat: stream interrupted")
)

// Message はクライアントとの間でやり取りする会話の1発話。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stats は1回の中継の結果。
type Stats struct {
	Model        string
	MessageCount int
	Chunks       int
	FirstToken   time.Duration
	Duration     time.Duration
}

// Streamer はチャット補完のストリームを開始する。
// *openai.Client が実装する。
type Streamer interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// RelayConfig はRelayの設定。
type RelayConfig struct {
	Model     string
	MaxTokens int
}

// Relay は会話を補完APIへ中継する。状態は持たず、各呼び出しは独立している。
type Relay struct {
	client    Streamer
	sanitizer security.Sanitizer
	config    RelayConfig
	now       func() time.Time
}

// NewClient はOpenAI互換APIのクライアントを生成する。baseURLが空の場合はOpenAIを使う。
func NewClient(apiKey, baseURL string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		conf.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(conf)
}

// NewRelay はRelayを生成する。
func NewRelay(client Streamer, sanitizer security.Sanitizer, config RelayConfig) *Relay {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Relay{client: client, sanitizer: sanitizer, config: config, now: time.Now}
}

// Model は中継先のモデル名を返す。
func (r *Relay) Model() string {
	return r.config.Model
}

// Prepare はクライアントから受け取った会話を検証し、システムプロンプトを先頭に付けた補完APIの発話列を返す。
// systemロールや未知のロールの発話は破棄し、本文からHTMLを除去する。本文が空になった発話も破棄する。
func (r *Relay) Prepare(messages []Message) ([]openai.ChatCompletionMessage, error) {
	if len(messages) > MaxMessages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyMessages, len(messages), MaxMessages)
	}

	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt,
	})

	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			continue
		}
		content := r.sanitizer.PlainText(m.Content)
		if content == "" {
			continue
		}
		if runes := []rune(content); len(runes) > MaxContentLength {
			content = string(runes[:MaxContentLength])
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	if len(out) == 1 {
		return nil, ErrNoMessages
	}
	return out, nil
}

// Stream は会話を中継し、生成されたテキスト片を到着順にemitへ渡す。
// 最初の片を渡す前の失敗は ErrUpstream、それ以降の失敗は ErrInterrupted でラップして返す。
// emitがエラーを返した場合（クライアント切断など）はそのエラーを返して中断する。
func (r *Relay) Stream(ctx context.Context, messages []Message, emit func(chunk string) error) (*Stats, error) {
	prepared, err := r.Prepare(messages)
	if err != nil {
		return nil, err
	}

	start := r.now()
	stats := &Stats{Model: r.config.Model, MessageCount: len(prepared) - 1}

	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     r.config.Model,
		Messages:  prepared,
		MaxTokens: r.config.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		stats.Duration = r.now().Sub(start)
		return stats, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Duration = r.now().Sub(start)
			if stats.Chunks == 0 {
				return stats, fmt.Errorf("%w: %w", ErrUpstream, err)
			}
			return stats, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}

		if stats.Chunks == 0 {
			stats.FirstToken = r.now().Sub(start)
		}
		stats.Chunks++
		if err := emit(chunk); err != nil {
			stats.Duration = r.now().Sub(start)
			return stats, err
		}
	}

	stats.Duration = r.now().Sub(start)
	if stats.Chunks == 0 {
		return stats, fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return stats, nil
}

// UpstreamStatus は補完APIのエラーからHTTPステータスを取り出す。取れない場合は0。
func UpstreamStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var _ Streamer = (*openai.Client)(nil)
