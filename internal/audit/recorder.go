// Package audit は認証イベントとチャットストリームのメタデータを記録する。
// セッションそのものや会話内容は保存しない。
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 認証イベントの種別。
const (
	ActionLogin  = "login"
	ActionSignUp = "signup"
	ActionLogout = "logout"
)

// イベントの結果。
const (
	OutcomeSuccess             = "success"
	OutcomeInvalid             = "invalid_input"
	OutcomeRejected            = "rejected"
	OutcomeEmailUnconfirmed    = "email_not_confirmed"
	OutcomeProviderUnavailable = "provider_unavailable"
	OutcomeError               = "error"
)

// AuthEvent は1件の認証イベント。
type AuthEvent struct {
	ID         string
	Action     string
	Outcome    string
	AccountID  string
	Email      string
	Role       string
	ClientIP   string
	UserAgent  string
	OccurredAt time.Time
}

// ChatStream は1回のチャット中継のメタデータ。
type ChatStream struct {
	ID           string
	AccountID    string
	Model        string
	Outcome      string
	MessageCount int
	ChunkCount   int
	FirstToken   time.Duration
	Duration     time.Duration
	StartedAt    time.Time
}

// Recorder は監査イベントの記録先。
type Recorder interface {
	RecordAuth(ctx context.Context, event AuthEvent) error
	RecordChat(ctx context.Context, stream ChatStream) error
}

// NopRecorder は何も記録しないRecorder。DATABASE_URL未設定時に使用する。
type NopRecorder struct{}

// RecordAuth は何もしない。
func (NopRecorder) RecordAuth(context.Context, AuthEvent) error { return nil }

// RecordChat は何もしない。
func (NopRecorder) RecordChat(context.Context, ChatStream) error { return nil }

// PostgresRecorder はPostgreSQLに監査イベントを書き込むRecorder。
type PostgresRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRecorder はPostgresRecorderを生成する。
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, now: time.Now}
}

// RecordAuth は認証イベントを1行追加する。IDと時刻が空の場合は補完する。
func (r *PostgresRecorder) RecordAuth(ctx context.Context, event AuthEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_events (id, action, outcome, account_id, email, role, client_ip, user_agent, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Action, event.Outcome, event.AccountID, event.Email,
		event.Role, event.ClientIP, event.UserAgent, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record auth event: %w", err)
	}
	return nil
}

// RecordChat はチャット中継のメタデータを1行追加する。
func (r *PostgresRecorder) RecordChat(ctx context.Context, stream ChatStream) error {
	if stream.ID == "" {
		stream.ID = uuid.New().String()
	}
	if stream.StartedAt.IsZero() {
		stream.StartedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_streams (id, account_id, model, outcome, message_count, chunk_count, first_token_ms, duration_ms, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stream.ID, stream.AccountID, stream.Model, stream.Outcome, stream.MessageCount, stream.ChunkCount,
		stream.FirstToken.Milliseconds(), stream.Duration.Milliseconds(), stream.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record chat stream: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*PostgresRecorder)(nil)
)
