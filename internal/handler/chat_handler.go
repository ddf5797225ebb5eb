package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/gdmcare/internal/audit"
	"github.com/hitoshi/gdmcare/internal/chat"
	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/middleware"
)

const msgAssistantUnavailable = "The assistant is unavailable right now. Please try again."

// チャットストリームの結果ラベル。
const (
	chatOutcomeCompleted    = "completed"
	chatOutcomeInvalid      = "invalid_input"
	chatOutcomeUpstream     = "upstream_error"
	chatOutcomeInterrupted  = "interrupted"
	chatOutcomeClientClosed = "client_closed"
)

// ChatRelay はチャットハンドラーが必要とする中継インターフェース。
type ChatRelay interface {
	Stream(ctx context.Context, messages []chat.Message, emit func(chunk string) error) (*chat.Stats, error)
	Model() string
}

// ChatHandler は会話アシスタントへの中継ハンドラー。
type ChatHandler struct {
	relay    ChatRelay
	recorder audit.Recorder
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(relay ChatRelay, recorder audit.Recorder, collector metrics.MetricsCollector) *ChatHandler {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &ChatHandler{relay: relay, recorder: recorder, metrics: collector, now: time.Now}
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// Chat は会話履歴を補完APIへ中継し、生成されたトークンを届いた順にストリーミングする。
// Accept: text/event-stream の場合はSSEのdataフレーム、それ以外はtext/plainのチャンクで返す。
// レスポンスヘッダーは最初のトークン受信時に書き込むため、それ以前の失敗は502で返せる。
// POST /api/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.RecordChatStream(chatOutcomeInvalid)
		middleware.WriteJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	started := h.now()
	out := newChunkWriter(w, wantsEventStream(r))

	stats, err := h.relay.Stream(r.Context(), req.Messages, out.write)

	outcome := h.finish(w, r, out, err)
	h.metrics.RecordChatStream(outcome)
	if outcome == chatOutcomeInvalid {
		return
	}
	if stats == nil {
		stats = &chat.Stats{Model: h.relay.Model()}
	}
	if stats.Chunks > 0 {
		h.metrics.RecordChatFirstToken(stats.FirstToken)
	}

	// 監査の書き込みはクライアント切断後も行う
	ctx := context.WithoutCancel(r.Context())
	if recErr := h.recorder.RecordChat(ctx, audit.ChatStream{
		ID:           uuid.NewString(),
		AccountID:    principal.AccountID(),
		Model:        stats.Model,
		Outcome:      outcome,
		MessageCount: stats.MessageCount,
		ChunkCount:   stats.Chunks,
		FirstToken:   stats.FirstToken,
		Duration:     stats.Duration,
		StartedAt:    started,
	}); recErr != nil {
		slog.Warn("failed to record chat stream", slog.String("error", recErr.Error()))
	}
}

// finish はStreamの結果に応じてレスポンスを完了させ、結果ラベルを返す。
func (h *ChatHandler) finish(w http.ResponseWriter, r *http.Request, out *chunkWriter, err error) string {
	requestID := middleware.RequestIDFromContext(r.Context())

	switch {
	case err == nil:
		out.done()
		return chatOutcomeCompleted

	case errors.Is(err, chat.ErrNoMessages), errors.Is(err, chat.ErrTooManyMessages):
		middleware.WriteJSONError(w, http.StatusBadRequest, invalidChatMessage(err))
		return chatOutcomeInvalid

	case r.Context().Err() != nil:
		slog.Info("chat client disconnected",
			slog.String("request_id", requestID),
			slog.Int("chunks", out.chunks),
		)
		return chatOutcomeClientClosed

	case !out.started:
		slog.Error("chat upstream failed",
			slog.String("request_id", requestID),
			slog.Int("upstream_status", chat.UpstreamStatus(err)),
			slog.String("error", err.Error()),
		)
		middleware.WriteJSONError(w, http.StatusBadGateway, msgAssistantUnavailable)
		return chatOutcomeUpstream

	default:
		slog.Error("chat stream interrupted",
			slog.String("request_id", requestID),
			slog.Int("chunks", out.chunks),
			slog.String("error", err.Error()),
		)
		out.fail()
		if errors.Is(err, chat.ErrInterrupted) {
			return chatOutcomeInterrupted
		}
		return chatOutcomeClientClosed
	}
}

func invalidChatMessage(err error) string {
	if errors.Is(err, chat.ErrTooManyMessages) {
		return fmt.Sprintf("Too many messages (maximum %d)", chat.MaxMessages)
	}
	return "At least one message is required"
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// chunkWriter はトークンをレスポンスに書き込む。ヘッダーは最初の書き込みで送る。
type chunkWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	sse     bool
	started bool
	chunks  int
}

func newChunkWriter(w http.ResponseWriter, sse bool) *chunkWriter {
	return &chunkWriter{w: w, rc: http.NewResponseController(w), sse: sse}
}

func (c *chunkWriter) start() {
	if c.started {
		return
	}
	c.started = true
	// サーバーのWriteTimeoutで長い生成が切れないよう書き込み期限を外す
	c.rc.SetWriteDeadline(time.Time{})

	h := c.w.Header()
	if c.sse {
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	c.w.WriteHeader(http.StatusOK)
}

func (c *chunkWriter) write(chunk string) error {
	c.start()

	var err error
	if c.sse {
		err = c.writeEvent("", chunk)
	} else {
		_, err = c.w.Write([]byte(chunk))
	}
	if err != nil {
		return err
	}
	c.chunks++
	c.flush()
	return nil
}

// writeEvent はSSEイベントを1つ書き込む。複数行のデータは行ごとにdataフィールドにする。
func (c *chunkWriter) writeEvent(event, data string) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := c.w.Write([]byte(b.String()))
	return err
}

// done はSSEの終端イベントを送る。text/plainでは何もしない。
func (c *chunkWriter) done() {
	if c.sse && c.started {
		c.writeEvent("done", "[DONE]")
		c.flush()
	}
}

// fail はストリーム途中の失敗をSSEのerrorイベントで通知する。text/plainでは接続を閉じるだけ。
func (c *chunkWriter) fail() {
	if c.sse && c.started {
		c.writeEvent("error", msgAssistantUnavailable)
		c.flush()
	}
}

func (c *chunkWriter) flush() {
	c.rc.Flush()
}
